package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"filippo.io/age"
)

// EncryptFile encrypts inputFile to outputFile under the passphrase using
// age's scrypt recipient: a fresh random salt per invocation, so identical
// plaintexts never yield identical ciphertexts. The plaintext is removed
// immediately on success so an unencrypted copy never lingers.
func EncryptFile(inputFile, outputFile, passphrase string) error {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("failed to create scrypt recipient: %w", err)
	}

	if err := encrypt(inputFile, outputFile, recipient); err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}

	if err := os.Remove(inputFile); err != nil {
		return fmt.Errorf("failed to remove plaintext archive: %w", err)
	}
	slog.Info("Plaintext archive removed", "path", inputFile)

	return nil
}

func encrypt(inputFile, outputFile string, recipient age.Recipient) error {
	in, err := os.Open(inputFile)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(outputFile)
	if err != nil {
		return err
	}
	defer out.Close()

	w, err := age.Encrypt(out, recipient)
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, in); err != nil {
		return err
	}

	return w.Close()
}

// Decrypt opens inputFile with the passphrase and streams the plaintext to
// w. A wrong passphrase or corrupted input fails deterministically; age
// never emits unauthenticated plaintext.
func Decrypt(inputFile string, w io.Writer, passphrase string) error {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return fmt.Errorf("failed to create scrypt identity: %w", err)
	}

	in, err := os.Open(inputFile)
	if err != nil {
		return err
	}
	defer in.Close()

	r, err := age.Decrypt(in, identity)
	if err != nil {
		return fmt.Errorf("decryption failed: %w", err)
	}

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("decryption failed: %w", err)
	}

	return nil
}

// SHA256File computes the SHA-256 hash of a file as lowercase hex.
func SHA256File(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// WriteChecksumFile writes the companion checksum file: a single hex token.
func WriteChecksumFile(path, digest string) error {
	return os.WriteFile(path, []byte(digest+"\n"), 0o644)
}

// ReadChecksumFile reads a companion checksum file, tolerating the
// "<digest>  <filename>" layout sha256sum produces.
func ReadChecksumFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", fmt.Errorf("checksum file %s is empty", path)
	}
	return fields[0], nil
}

// VerifyFile compares a file's SHA-256 against the expected digest.
func VerifyFile(filename, expected string) error {
	actual, err := SHA256File(filename)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", filename, err)
	}
	if actual != expected {
		return fmt.Errorf("SHA-256 mismatch for %s: expected %s, got %s", filename, expected, actual)
	}
	return nil
}
