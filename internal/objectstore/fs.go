package objectstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/vellumdb/vellum/internal/errors"
)

// LocatorPrefix prefixes every content-addressed locator.
const LocatorPrefix = "sha256-"

// FSStore is a filesystem-backed Store. Objects live at
// baseDir/<hh>/<locator>/<objectVersion> where hh is the first two hex
// digits of the content hash. Writes go to a temp file first and are
// renamed into place, so a crash never leaves a partially visible object.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a filesystem object store rooted at baseDir.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, errors.NewStorage(fmt.Errorf("failed to create object directory: %w", err))
	}
	_ = os.Chmod(baseDir, 0700)
	return &FSStore{baseDir: baseDir}, nil
}

// Checksum returns the hex SHA-256 digest of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Locator derives the content-addressed locator for data.
func Locator(data []byte) string {
	return LocatorPrefix + Checksum(data)
}

// Put stores data under its content-addressed locator with a fresh object
// version. An existing object is never touched: identical content put twice
// lands under two distinct object versions.
func (s *FSStore) Put(ctx context.Context, data []byte) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, errors.NewCancelled("object put")
	}

	locator := Locator(data)
	objectVersion, err := generateObjectVersion()
	if err != nil {
		return Ref{}, errors.NewInternal(err)
	}

	dir := filepath.Join(s.baseDir, locator[len(LocatorPrefix):len(LocatorPrefix)+2], locator)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return Ref{}, errors.NewStorage(fmt.Errorf("failed to create object path: %w", err))
	}

	final := filepath.Join(dir, objectVersion)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return Ref{}, errors.NewStorage(fmt.Errorf("failed to write object: %w", err))
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return Ref{}, errors.NewStorage(fmt.Errorf("failed to finalize object: %w", err))
	}

	return Ref{Locator: locator, ObjectVersion: objectVersion}, nil
}

// Get reads the object back and re-verifies its checksum against the
// locator. A mismatch is surfaced as INTEGRITY without touching the stored
// bytes.
func (s *FSStore) Get(ctx context.Context, ref Ref) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("object get")
	}
	if err := validateRef(ref); err != nil {
		return nil, err
	}

	path := filepath.Join(s.baseDir, ref.Locator[len(LocatorPrefix):len(LocatorPrefix)+2], ref.Locator, ref.ObjectVersion)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound("object", ref.Locator+"@"+ref.ObjectVersion)
		}
		return nil, errors.NewStorage(fmt.Errorf("failed to read object: %w", err))
	}

	want := strings.TrimPrefix(ref.Locator, LocatorPrefix)
	got := Checksum(data)
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		log.Error().
			Str("locator", ref.Locator).
			Str("object_version", ref.ObjectVersion).
			Msg("stored object failed checksum verification")
		return nil, errors.NewIntegrity("object content does not match its locator checksum", map[string]any{
			"locator":        ref.Locator,
			"object_version": ref.ObjectVersion,
			"actual":         got,
		})
	}

	return data, nil
}

// validateRef rejects refs that could escape the object directory or
// reference something we never wrote.
func validateRef(ref Ref) error {
	if !strings.HasPrefix(ref.Locator, LocatorPrefix) || len(ref.Locator) != len(LocatorPrefix)+64 {
		return errors.NewValidation("malformed object locator")
	}
	if _, err := hex.DecodeString(ref.Locator[len(LocatorPrefix):]); err != nil {
		return errors.NewValidation("malformed object locator")
	}
	if ref.ObjectVersion == "" || strings.ContainsAny(ref.ObjectVersion, "/\\.") {
		return errors.NewValidation("malformed object version")
	}
	return nil
}

// generateObjectVersion generates a new ULID.
func generateObjectVersion() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

var _ Store = (*FSStore)(nil)
