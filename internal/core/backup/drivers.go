package backup

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/raisekit/opscore/pkg/errors"
)

// Driver produces and consumes raw backup payloads for one backup type.
// Compression, encryption, and storage happen outside the driver. An empty
// restore target uses the driver's default location.
type Driver interface {
	Dump(ctx context.Context, cfg *Config) ([]byte, error)
	Restore(ctx context.Context, cfg *Config, target string, data []byte) error
}

// SQLiteDriver snapshots the database with VACUUM INTO, which produces a
// consistent copy without blocking readers.
type SQLiteDriver struct {
	db   *sqlx.DB
	path string
}

// NewSQLiteDriver backs up the database behind db, stored at path.
func NewSQLiteDriver(db *sqlx.DB, path string) *SQLiteDriver {
	return &SQLiteDriver{db: db, path: path}
}

func (d *SQLiteDriver) Dump(ctx context.Context, _ *Config) ([]byte, error) {
	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("opscore-dump-%d.db", time.Now().UnixNano()))
	defer os.Remove(tmp)

	if _, err := d.db.ExecContext(ctx, "VACUUM INTO ?", tmp); err != nil {
		return nil, errors.Wrap(err, errors.KindDatabase, "database snapshot failed")
	}
	data, err := os.ReadFile(tmp)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to read database snapshot")
	}
	return data, nil
}

// Restore writes the snapshot to target, defaulting to a .restored file
// next to the live database. Swapping it into place requires the process to
// be restarted, so the live file is never overwritten while connections are
// open.
func (d *SQLiteDriver) Restore(_ context.Context, _ *Config, target string, data []byte) error {
	if target == "" {
		target = d.path + ".restored"
	}
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to write restored database %s", target)
	}
	return nil
}

// FilesDriver archives the config's target directories as a tar stream.
// A non-zero since bound turns the dump incremental, including only files
// modified after it.
type FilesDriver struct {
	restoreDir string
}

// NewFilesDriver restores archives under restoreDir rather than over the
// original paths.
func NewFilesDriver(restoreDir string) *FilesDriver {
	return &FilesDriver{restoreDir: restoreDir}
}

func (d *FilesDriver) Dump(ctx context.Context, cfg *Config) ([]byte, error) {
	return tarTargets(ctx, cfg.Targets, time.Time{})
}

func (d *FilesDriver) Restore(_ context.Context, _ *Config, target string, data []byte) error {
	if target == "" {
		target = d.restoreDir
	}
	return untarInto(target, data)
}

// DumpSince archives only files modified after since.
func (d *FilesDriver) DumpSince(ctx context.Context, cfg *Config, since time.Time) ([]byte, error) {
	return tarTargets(ctx, cfg.Targets, since)
}

func tarTargets(ctx context.Context, targets []string, since time.Time) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	for _, root := range targets {
		base := filepath.Dir(root)
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			if !since.IsZero() && !info.ModTime().After(since) {
				return nil
			}

			rel, err := filepath.Rel(base, path)
			if err != nil {
				return err
			}
			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			header.Name = filepath.ToSlash(rel)
			if err := tw.WriteHeader(header); err != nil {
				return err
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, f)
			f.Close()
			return err
		})
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindInternal, "failed to archive %s", root)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to finalize archive")
	}
	return buf.Bytes(), nil
}

func untarInto(dir string, data []byte) error {
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.KindValidation, "corrupt backup archive")
		}

		// Reject entries that would escape the restore directory.
		target := filepath.Join(dir, filepath.FromSlash(header.Name))
		rel, err := filepath.Rel(dir, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return errors.New(errors.KindValidation, fmt.Sprintf("archive entry %q escapes restore directory", header.Name))
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrapf(err, errors.KindInternal, "failed to create %s", filepath.Dir(target))
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(header.Mode)&0o777)
		if err != nil {
			return errors.Wrapf(err, errors.KindInternal, "failed to create %s", target)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return errors.Wrapf(err, errors.KindInternal, "failed to restore %s", target)
		}
		f.Close()
	}
}

// FullDriver bundles a database snapshot and the file targets into one
// archive with two top-level entries.
type FullDriver struct {
	db    *SQLiteDriver
	files *FilesDriver
}

// NewFullDriver composes the database and files drivers.
func NewFullDriver(db *SQLiteDriver, files *FilesDriver) *FullDriver {
	return &FullDriver{db: db, files: files}
}

func (d *FullDriver) Dump(ctx context.Context, cfg *Config) ([]byte, error) {
	dbDump, err := d.db.Dump(ctx, cfg)
	if err != nil {
		return nil, err
	}
	filesDump, err := d.files.Dump(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, entry := range []struct {
		name string
		data []byte
	}{
		{"database.db", dbDump},
		{"files.tar", filesDump},
	} {
		if err := tw.WriteHeader(&tar.Header{
			Name: entry.name,
			Mode: 0o600,
			Size: int64(len(entry.data)),
		}); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "failed to write archive header")
		}
		if _, err := tw.Write(entry.data); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "failed to write archive entry")
		}
	}
	if err := tw.Close(); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to finalize archive")
	}
	return buf.Bytes(), nil
}

// Restore unpacks both entries. A non-empty target becomes a directory
// holding the restored database alongside the unpacked files.
func (d *FullDriver) Restore(ctx context.Context, cfg *Config, target string, data []byte) error {
	dbTarget, filesTarget := "", ""
	if target != "" {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return errors.Wrapf(err, errors.KindInternal, "failed to create %s", target)
		}
		dbTarget = filepath.Join(target, "database.db")
		filesTarget = target
	}

	tr := tar.NewReader(bytes.NewReader(data))
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.KindValidation, "corrupt backup archive")
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return errors.Wrap(err, errors.KindValidation, "corrupt backup archive")
		}
		switch header.Name {
		case "database.db":
			if err := d.db.Restore(ctx, cfg, dbTarget, payload); err != nil {
				return err
			}
		case "files.tar":
			if err := d.files.Restore(ctx, cfg, filesTarget, payload); err != nil {
				return err
			}
		}
	}
}
