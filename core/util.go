package core

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var dataRoot = filepath.Join(".", "data")

// SetDataRoot overrides the per-request document directory (tests point it
// at a temp dir).
func SetDataRoot(dir string) { dataRoot = dir }

func DataRoot() string { return dataRoot }

// RequestDir returns the document directory for one request, creating it
// if needed.
func RequestDir(requestID string) (string, error) {
	dir := filepath.Join(dataRoot, requestID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// DocPath returns where SaveDoc placed (or will place) a document.
func DocPath(requestID, name string) string {
	return filepath.Join(dataRoot, requestID, name)
}

func NewID() string { return uuid.NewString() }

// WriteJSON writes v as an HTTP JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// SaveDoc persists v as an indented JSON document and returns its path.
func SaveDoc(requestID, name string, v any) (string, error) {
	dir, err := RequestDir(requestID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return path, nil
}

// LoadDoc reads a JSON document written by SaveDoc.
func LoadDoc(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
