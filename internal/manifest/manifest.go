// Package manifest loads the FalconForge integrity manifest and verifies
// local files against its SHA-256 pins.
package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"capbridge/pkg/platform/sentinel"
)

// HashPrefix is the scheme tag every manifest pin carries.
const HashPrefix = "SHA256:"

// Module is one pinned file within the manifest.
type Module struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
}

// Manifest pins the canonical hashes of every schema module.
type Manifest struct {
	Version string   `json:"version"`
	Modules []Module `json:"modules"`
}

// Load reads and parses a manifest file. A missing file is reported as
// sentinel.ErrNotFound so callers can distinguish absence from corruption.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, fmt.Errorf("manifest %s: %w", path, sentinel.ErrNotFound)
		}
		return Manifest{}, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

// Module looks up a pinned module by file name.
func (m Manifest) Module(name string) (Module, error) {
	for _, mod := range m.Modules {
		if mod.Name == name {
			return mod, nil
		}
	}
	return Module{}, fmt.Errorf("manifest module %q: %w", name, sentinel.ErrNotFound)
}

// Pin returns the bare hex digest of the module's pin.
func (mod Module) Pin() (string, error) {
	digest, ok := strings.CutPrefix(mod.SHA256, HashPrefix)
	if !ok || len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("malformed pin for module %q: %q", mod.Name, mod.SHA256)
	}
	return strings.ToLower(digest), nil
}

// HashFile computes the streaming SHA-256 of a file in the manifest's
// "SHA256:<hex>" format.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("hash %s: %w", path, sentinel.ErrNotFound)
		}
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return HashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// Digest strips the scheme tag from a HashFile result.
func Digest(hash string) string {
	return strings.ToLower(strings.TrimPrefix(hash, HashPrefix))
}

// VerifyFile checks one file against a module pin. Returns the local digest
// alongside the result so callers can report both sides of a mismatch.
func VerifyFile(path string, mod Module) (local string, ok bool, err error) {
	pin, err := mod.Pin()
	if err != nil {
		return "", false, err
	}
	hash, err := HashFile(path)
	if err != nil {
		return "", false, err
	}
	local = Digest(hash)
	return local, local == pin, nil
}

// MismatchError reports a file whose content drifted from its manifest pin.
type MismatchError struct {
	Name     string
	Expected string
	Found    string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("module %q hash mismatch: expected %s, found %s", e.Name, e.Expected, e.Found)
}

// VerifyAll hashes every pinned module under dir concurrently and fails on
// the first missing file, malformed pin, or drifted hash.
func (m Manifest) VerifyAll(ctx context.Context, dir string) error {
	g, _ := errgroup.WithContext(ctx)
	for _, mod := range m.Modules {
		g.Go(func() error {
			pin, err := mod.Pin()
			if err != nil {
				return err
			}
			local, ok, err := VerifyFile(filepath.Join(dir, mod.Name), mod)
			if err != nil {
				return err
			}
			if !ok {
				return &MismatchError{Name: mod.Name, Expected: pin, Found: local}
			}
			return nil
		})
	}
	return g.Wait()
}
