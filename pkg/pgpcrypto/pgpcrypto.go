// Package pgpcrypto implements the CryptoModule: streaming OpenPGP
// encryption, decryption, and optional signing/verification of the
// encrypted artifacts moved between the local cache and each remote
// store.
package pgpcrypto

import (
	"io"
	"os"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/ottervault/backup/internal/errors"
)

// literalFilename and literalTimestamp are hard-coded so the literal-data
// packet never leaks the source path or mtime into the ciphertext; OpenPGP's
// randomized session key and padding still make the overall ciphertext
// differ between independent encryptions of identical plaintext.
const literalFilename = "foo"

var literalTimestamp = time.Unix(0, 0)

// LoadKeyRing reads an OpenPGP certificate (armored or binary) from path
// and returns its entities.
func LoadKeyRing(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Crypto(path, err)
	}
	defer f.Close()

	ring, err := openpgp.ReadArmoredKeyRing(f)
	if err == nil {
		return ring, nil
	}

	if _, serr := f.Seek(0, io.SeekStart); serr != nil {
		return nil, errors.Crypto(path, serr)
	}
	ring, err = openpgp.ReadKeyRing(f)
	if err != nil {
		return nil, errors.Crypto(path, err)
	}
	return ring, nil
}

// EncryptStream encrypts src to dest for recipients, optionally signing
// with signer. The produced message is a single literal data packet with a
// fixed filename and timestamp (see literalFilename) wrapped in encryption
// and, if signer is non-nil, a signature layer.
func EncryptStream(dest io.Writer, src io.Reader, recipients openpgp.EntityList, signer *openpgp.Entity) error {
	hints := &openpgp.FileHints{
		IsBinary: true,
		FileName: literalFilename,
		ModTime:  literalTimestamp,
	}

	w, err := openpgp.Encrypt(dest, recipients, signer, hints, defaultEncryptionConfig)
	if err != nil {
		return errors.Crypto("", err)
	}

	if _, err := io.Copy(w, src); err != nil {
		_ = w.Close()
		return errors.Crypto("", err)
	}

	if err := w.Close(); err != nil {
		return errors.Crypto("", err)
	}
	return nil
}

// DecryptStream decrypts src into dest using keyring for the encryption
// key. If validSigners is non-empty, the message must carry a valid
// signature from one of those entities or decryption fails with a crypto
// error; if validSigners is empty, signatures are not required.
func DecryptStream(dest io.Writer, src io.Reader, keyring openpgp.EntityList, validSigners openpgp.EntityList) error {
	// ReadMessage resolves the one-pass signature's issuer against the
	// keyring it is given, not against a separate signer list; the signer's
	// entity must be present in that keyring for md.SignedBy to be
	// populated at all, even though keyring alone is only the decryption
	// (recipient) side. validSigners is appended so the issuer can be
	// found; which key actually decrypted the message is unaffected, since
	// openpgp.ReadMessage always prefers a private key match.
	lookup := keyring
	if len(validSigners) > 0 {
		lookup = append(append(openpgp.EntityList{}, keyring...), validSigners...)
	}

	md, err := openpgp.ReadMessage(src, lookup, nil, nil)
	if err != nil {
		return errors.Crypto("", err)
	}

	if _, err := io.Copy(dest, md.UnverifiedBody); err != nil {
		return errors.Crypto("", err)
	}

	if len(validSigners) == 0 {
		return nil
	}

	if md.SignatureError != nil {
		return errors.Crypto("", md.SignatureError)
	}
	if md.SignedBy == nil {
		return errors.Crypto("", errMissingSignature)
	}

	for _, signer := range validSigners {
		if signer.PrimaryKey != nil && md.SignedByKeyId == signer.PrimaryKey.KeyId {
			return nil
		}
		for _, subkey := range signer.Subkeys {
			if subkey.PublicKey != nil && subkey.PublicKey.KeyId == md.SignedByKeyId {
				return nil
			}
		}
	}

	return errors.Crypto("", errUntrustedSignature)
}

var (
	errMissingSignature   = pgpError("message is not signed")
	errUntrustedSignature = pgpError("message signed by an untrusted key")
)

type pgpError string

func (e pgpError) Error() string { return string(e) }

// defaultEncryptionConfig mirrors the original's choice to skip
// compression: messages are written uncompressed to keep encryption
// throughput high, at the cost of larger ciphertext for compressible input.
var defaultEncryptionConfig = &packet.Config{
	DefaultCompressionAlgo: packet.CompressionNone,
}
