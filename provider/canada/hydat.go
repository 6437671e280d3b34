package canada

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var archivePattern = regexp.MustCompile(`Hydat_sqlite3_(\d{8})\.zip$`)

// databasePath returns the HYDAT database to query, downloading the most
// recent release into the data directory when none is present.
func (f *Fetcher) databasePath(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dbPath != "" {
		return f.dbPath, nil
	}

	if local := latestLocalDatabase(f.dataDir); local != "" {
		f.logger.Debug("Using local HYDAT database", "path", local)
		f.dbPath = local
		return local, nil
	}

	link, err := f.findLatestArchive(ctx)
	if err != nil {
		return "", err
	}

	path, err := f.downloadArchive(ctx, link)
	if err != nil {
		return "", err
	}

	f.dbPath = path
	return path, nil
}

func latestLocalDatabase(dir string) string {
	if dir == "" {
		return ""
	}

	matches, err := filepath.Glob(filepath.Join(dir, "Hydat_sqlite3_*.sqlite3"))
	if err != nil || len(matches) == 0 {
		return ""
	}

	// release dates are part of the name, so lexical order is chronological
	sort.Strings(matches)
	return matches[len(matches)-1]
}

func (f *Fetcher) findLatestArchive(ctx context.Context) (string, error) {
	content, err := f.client.Get(ctx, f.baseURL+"/", nil, nil)
	if err != nil {
		return "", fmt.Errorf("failed to load HYDAT index: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse HYDAT index: %w", err)
	}

	var latest, latestDate string
	doc.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		match := archivePattern.FindStringSubmatch(href)
		if match == nil || match[1] <= latestDate {
			return
		}
		latestDate = match[1]
		latest = href
	})

	if latest == "" {
		return "", ErrArchiveNotFound
	}

	if !strings.Contains(latest, "://") {
		latest = f.baseURL + "/" + strings.TrimLeft(latest, "/")
	}

	f.logger.Info("Found HYDAT release", "date", latestDate, "url", latest)
	return latest, nil
}

func (f *Fetcher) downloadArchive(ctx context.Context, link string) (string, error) {
	if f.dataDir == "" {
		return "", fmt.Errorf("%w: no data directory configured", ErrArchiveNotFound)
	}

	if err := os.MkdirAll(f.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	archive, err := os.CreateTemp(f.dataDir, "hydat-*.zip")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary archive: %w", err)
	}
	defer func() {
		archive.Close()
		os.Remove(archive.Name())
	}()

	if _, err := f.client.Download(ctx, link, archive); err != nil {
		return "", fmt.Errorf("failed to download HYDAT archive: %w", err)
	}

	target := filepath.Join(f.dataDir, strings.TrimSuffix(filepath.Base(link), ".zip")+".sqlite3")
	if err := extractDatabase(archive.Name(), target); err != nil {
		return "", err
	}

	f.logger.Info("Extracted HYDAT database", "path", target)
	return target, nil
}

func extractDatabase(archivePath, target string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open HYDAT archive: %w", err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if !strings.HasSuffix(file.Name, ".sqlite3") {
			continue
		}

		src, err := file.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s in archive: %w", file.Name, err)
		}
		defer src.Close()

		partial := target + ".part"
		dst, err := os.Create(partial)
		if err != nil {
			return fmt.Errorf("failed to create database file: %w", err)
		}

		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			os.Remove(partial)
			return fmt.Errorf("failed to extract database: %w", err)
		}

		if err := dst.Close(); err != nil {
			os.Remove(partial)
			return fmt.Errorf("failed to write database: %w", err)
		}

		return os.Rename(partial, target)
	}

	return fmt.Errorf("%w: archive contains no sqlite3 file", ErrArchiveNotFound)
}
