package backup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/untoldecay/checkpoint/internal/errs"
)

const ageHeader = "age-encryption.org/v1"

// LoadRecipients parses the age recipient key file: one "age1..."
// public key per line, comments and blanks ignored.
func LoadRecipients(keyFile string) ([]age.Recipient, error) {
	f, err := os.Open(keyFile) // #nosec G304 -- key file path comes from config
	if err != nil {
		return nil, errs.Wrap(errs.CodeConfInvalid, err, "opening encryption key file")
	}
	defer f.Close()

	var recipients []age.Recipient
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := age.ParseX25519Recipient(line)
		if err != nil {
			return nil, errs.Wrap(errs.CodeConfInvalid, err, "parsing age recipient")
		}
		recipients = append(recipients, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, errs.New(errs.CodeConfInvalid, "encryption key file holds no recipients")
	}
	return recipients, nil
}

// EncryptFile wraps path with age encryption, producing path.age and
// removing the plaintext. The result is verified by re-reading the
// header before the plaintext is deleted.
func EncryptFile(path string, recipients []age.Recipient) (string, error) {
	in, err := os.Open(path) // #nosec G304 -- encrypting our own artifact
	if err != nil {
		return "", err
	}
	defer in.Close()

	encPath := path + ".age"
	out, err := os.OpenFile(encPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}

	w, err := age.Encrypt(out, recipients...)
	if err != nil {
		_ = out.Close()
		_ = os.Remove(encPath)
		return "", err
	}
	if _, err := io.Copy(w, in); err != nil {
		_ = out.Close()
		_ = os.Remove(encPath)
		return "", err
	}
	if err := w.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(encPath)
		return "", err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(encPath)
		return "", err
	}

	if err := verifyAgeHeader(encPath); err != nil {
		_ = os.Remove(encPath)
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return "", err
	}
	return encPath, nil
}

// VerifyEncrypted checks that path starts with the age format header.
func VerifyEncrypted(path string) error { return verifyAgeHeader(path) }

func verifyAgeHeader(path string) error {
	f, err := os.Open(path) // #nosec G304 -- verifying our own artifact
	if err != nil {
		return err
	}
	defer f.Close()
	buf := make([]byte, len(ageHeader))
	if _, err := io.ReadFull(f, buf); err != nil {
		return fmt.Errorf("reading encrypted header: %w", err)
	}
	if string(buf) != ageHeader {
		return fmt.Errorf("encrypted artifact has wrong header")
	}
	return nil
}
