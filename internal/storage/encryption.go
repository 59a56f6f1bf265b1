/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"github.com/pgpitr/internal/config"
)

// Encryptor provides encryption and decryption for archived WAL segments.
// Like compression, the extension is carried in the stored name so a restore
// tool knows what to undo.
type Encryptor interface {
	// Encrypt encrypts plaintext and returns the ciphertext
	Encrypt(plaintext []byte) ([]byte, error)

	// Decrypt decrypts ciphertext and returns the plaintext
	Decrypt(ciphertext []byte) ([]byte, error)

	// Extension returns the file extension for encrypted files
	Extension() string
}

// NewEncryptor creates an encryptor for the configured algorithm, reading the
// 32-byte AES-256 key from keyFile. A trailing newline in the key file is
// tolerated.
func NewEncryptor(algorithm, keyFile string) (Encryptor, error) {
	if algorithm == config.EncryptionNone || algorithm == "" {
		return &noopEncryptor{}, nil
	}

	if keyFile == "" {
		return nil, fmt.Errorf("wal_encryption_key_file is required when wal_encryption is enabled")
	}
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read encryption key file: %w", err)
	}
	key = bytes.TrimRight(key, "\n")
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes for AES-256, got %d bytes", len(key))
	}

	switch algorithm {
	case config.EncryptionAESGCM:
		return newAESGCMEncryptor(key)
	case config.EncryptionAESCBC:
		return newAESCBCEncryptor(key)
	default:
		return nil, fmt.Errorf("unsupported encryption algorithm: %s", algorithm)
	}
}

// TrimEncryptionExtension strips the encryption suffix from a stored object
// name, returning the name as the compression layer sees it.
func TrimEncryptionExtension(name string) string {
	if len(name) > len(encryptedExtension) && name[len(name)-len(encryptedExtension):] == encryptedExtension {
		return name[:len(name)-len(encryptedExtension)]
	}
	return name
}

const encryptedExtension = ".enc"

// noopEncryptor provides no encryption
type noopEncryptor struct{}

func (e *noopEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	return plaintext, nil
}

func (e *noopEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}

func (e *noopEncryptor) Extension() string {
	return ""
}

// aesGCMEncryptor provides AES-256-GCM encryption
type aesGCMEncryptor struct {
	gcm cipher.AEAD
}

func newAESGCMEncryptor(key []byte) (*aesGCMEncryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &aesGCMEncryptor{gcm: gcm}, nil
}

func (e *aesGCMEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Prepend nonce to ciphertext
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *aesGCMEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := e.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func (e *aesGCMEncryptor) Extension() string {
	return encryptedExtension
}

// aesCBCEncryptor provides AES-256-CBC encryption
type aesCBCEncryptor struct {
	block cipher.Block
}

func newAESCBCEncryptor(key []byte) (*aesCBCEncryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return &aesCBCEncryptor{block: block}, nil
}

func (e *aesCBCEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	// Pad plaintext to block size using PKCS7
	blockSize := e.block.BlockSize()
	padding := blockSize - len(plaintext)%blockSize
	padtext := make([]byte, len(plaintext)+padding)
	copy(padtext, plaintext)
	for i := len(plaintext); i < len(padtext); i++ {
		padtext[i] = byte(padding)
	}

	iv := make([]byte, blockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	// Prepend IV to ciphertext
	ciphertext := make([]byte, len(iv)+len(padtext))
	copy(ciphertext, iv)
	mode := cipher.NewCBCEncrypter(e.block, iv)
	mode.CryptBlocks(ciphertext[blockSize:], padtext)

	return ciphertext, nil
}

func (e *aesCBCEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	blockSize := e.block.BlockSize()
	if len(ciphertext) < blockSize*2 {
		return nil, fmt.Errorf("ciphertext too short")
	}
	if len(ciphertext)%blockSize != 0 {
		return nil, fmt.Errorf("ciphertext is not a multiple of the block size")
	}

	iv := ciphertext[:blockSize]
	ciphertext = ciphertext[blockSize:]

	plaintext := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(e.block, iv)
	mode.CryptBlocks(plaintext, ciphertext)

	// Remove PKCS7 padding
	padding := int(plaintext[len(plaintext)-1])
	if padding > blockSize || padding == 0 {
		return nil, fmt.Errorf("invalid padding")
	}
	for i := len(plaintext) - padding; i < len(plaintext); i++ {
		if plaintext[i] != byte(padding) {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return plaintext[:len(plaintext)-padding], nil
}

func (e *aesCBCEncryptor) Extension() string {
	return encryptedExtension
}

// EncryptingWriter is an io.WriteCloser that encrypts everything written to
// it. It buffers all data and encrypts on Close, block ciphers need the whole
// message. Close does not close the underlying writer; the caller still owns
// it and typically syncs it afterwards.
type EncryptingWriter struct {
	encryptor  Encryptor
	underlying io.Writer
	buffer     []byte
}

// NewEncryptingWriter creates a writer that encrypts data before writing.
func NewEncryptingWriter(w io.Writer, encryptor Encryptor) *EncryptingWriter {
	return &EncryptingWriter{
		encryptor:  encryptor,
		underlying: w,
	}
}

func (w *EncryptingWriter) Write(p []byte) (n int, err error) {
	w.buffer = append(w.buffer, p...)
	return len(p), nil
}

func (w *EncryptingWriter) Close() error {
	encrypted, err := w.encryptor.Encrypt(w.buffer)
	if err != nil {
		return fmt.Errorf("failed to encrypt data: %w", err)
	}
	if _, err := w.underlying.Write(encrypted); err != nil {
		return fmt.Errorf("failed to write encrypted data: %w", err)
	}
	return nil
}

// DecryptingReader is an io.Reader that decrypts the underlying stream. The
// whole ciphertext is read and decrypted on first Read. The underlying reader
// stays owned by the caller.
type DecryptingReader struct {
	decrypted   []byte
	offset      int
	underlying  io.Reader
	encryptor   Encryptor
	initialized bool
}

// NewDecryptingReader creates a reader that decrypts data while reading.
func NewDecryptingReader(r io.Reader, encryptor Encryptor) *DecryptingReader {
	return &DecryptingReader{
		underlying: r,
		encryptor:  encryptor,
	}
}

func (r *DecryptingReader) Read(p []byte) (n int, err error) {
	if !r.initialized {
		ciphertext, err := io.ReadAll(r.underlying)
		if err != nil {
			return 0, fmt.Errorf("failed to read encrypted data: %w", err)
		}
		r.decrypted, err = r.encryptor.Decrypt(ciphertext)
		if err != nil {
			return 0, fmt.Errorf("failed to decrypt data: %w", err)
		}
		r.initialized = true
	}

	if r.offset >= len(r.decrypted) {
		return 0, io.EOF
	}
	n = copy(p, r.decrypted[r.offset:])
	r.offset += n
	return n, nil
}
