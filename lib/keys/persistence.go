package keys

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Persisted key file format (YAML):
//
//	version: 1
//	type: x25519
//	public: <64 hex chars>
//	private: <64 hex chars>
//
// The public key is recomputed from the private key on load and must match
// the stored one. Files are written 0600, directories 0700.

const keyFileVersion = 1

var ErrKeyFileMismatch = errors.New("keys: stored public key does not match private key")

type keyFile struct {
	Version int    `yaml:"version"`
	Type    string `yaml:"type"`
	Public  string `yaml:"public"`
	Private string `yaml:"private"`
}

// StoreKeyPair writes kp to path.
func StoreKeyPair(path string, kp KeyPair) error {
	log.WithFields(logger.Fields{
		"at":   "keys.StoreKeyPair",
		"path": path,
	}).Debug("Storing key pair to disk")

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return oops.Wrapf(err, "creating key directory")
	}

	data, err := yaml.Marshal(&keyFile{
		Version: keyFileVersion,
		Type:    "x25519",
		Public:  kp.Public.String(),
		Private: hex.EncodeToString(kp.Private[:]),
	})
	if err != nil {
		return oops.Wrapf(err, "marshalling key file")
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		log.WithError(err).Error("Failed to write key file")
		return oops.Wrapf(err, "writing key file %s", path)
	}
	return nil
}

// LoadKeyPair reads a key pair written by StoreKeyPair.
func LoadKeyPair(path string) (KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeyPair{}, oops.Wrapf(err, "reading key file %s", path)
	}

	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return KeyPair{}, oops.Wrapf(err, "parsing key file %s", path)
	}
	if kf.Version != keyFileVersion {
		return KeyPair{}, oops.Errorf("unsupported key file version %d", kf.Version)
	}

	privBytes, err := hex.DecodeString(kf.Private)
	if err != nil {
		return KeyPair{}, oops.Wrapf(err, "decoding private key")
	}
	if len(privBytes) != KeySize {
		return KeyPair{}, oops.Wrapf(ErrInvalidKeyLength, "private key has %d bytes", len(privBytes))
	}

	var priv PrivateKey
	copy(priv[:], privBytes)
	kp, err := FromPrivate(priv)
	if err != nil {
		return KeyPair{}, err
	}

	if kf.Public != "" {
		pub, err := ParsePublicKey(kf.Public)
		if err != nil {
			return KeyPair{}, err
		}
		if !pub.Equal(kp.Public) {
			return KeyPair{}, ErrKeyFileMismatch
		}
	}

	log.WithFields(logger.Fields{
		"at":     "keys.LoadKeyPair",
		"path":   path,
		"public": kp.Public.Short(),
	}).Debug("Loaded key pair")
	return kp, nil
}

// LoadOrCreateKeyPair loads the key pair at path, generating and storing a
// new one only when the file does not exist. A file that exists but cannot be
// loaded is an error; replacing it would silently change identity.
func LoadOrCreateKeyPair(path string) (KeyPair, bool, error) {
	kp, err := LoadKeyPair(path)
	if err == nil {
		return kp, false, nil
	}

	if _, statErr := os.Stat(path); statErr == nil || !os.IsNotExist(statErr) {
		if statErr == nil {
			return KeyPair{}, false, oops.Wrapf(err, "key file exists but could not be loaded (refusing to overwrite)")
		}
		return KeyPair{}, false, oops.Wrapf(statErr, "cannot verify key file status")
	}

	log.WithField("path", path).Debug("Creating new identity key pair")
	kp, err = Generate()
	if err != nil {
		return KeyPair{}, false, err
	}
	if err := StoreKeyPair(path, kp); err != nil {
		return KeyPair{}, false, err
	}
	return kp, true, nil
}
