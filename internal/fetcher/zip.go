package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractZIP extracts every file in a ZIP archive to destDir and returns the
// extracted paths. TIGER shapefile archives carry sidecar files (.shp, .dbf,
// .shx, .prj) that all need to land in the same directory.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	extracted := make([]string, 0, len(r.File))
	for _, f := range r.File {
		path, err := extractEntry(f, destDir)
		if err != nil {
			return extracted, err
		}
		if path != "" {
			extracted = append(extracted, path)
		}
	}
	return extracted, nil
}

// ExtractZIPSingle extracts the lone file from an archive that contains
// exactly one, the shape gazetteer ZIPs come in.
func ExtractZIPSingle(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var only *zip.File
	count := 0
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		only = f
		count++
	}
	if count != 1 {
		return "", eris.Errorf("zip: expected exactly 1 file, got %d", count)
	}
	return extractEntry(only, destDir)
}

// entryDest resolves an archive member name under destDir, rejecting names
// that climb out of it.
func entryDest(name, destDir string) (string, error) {
	dest := filepath.Join(destDir, name)
	root := filepath.Clean(destDir) + string(os.PathSeparator)
	if !strings.HasPrefix(filepath.Clean(dest), root) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", name)
	}
	return dest, nil
}

// extractEntry writes one archive member under destDir. Directory entries
// are created but reported as an empty path.
func extractEntry(f *zip.File, destDir string) (string, error) {
	dest, err := entryDest(f.Name, destDir)
	if err != nil {
		return "", err
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return "", eris.Wrap(err, "zip: create directory")
		}
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrapf(err, "zip: write %s", dest)
	}
	return dest, nil
}
