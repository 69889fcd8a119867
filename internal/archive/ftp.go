// Package archive uploads history exports to an FTP server.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/tenki/internal/history"
	"github.com/lox/tenki/internal/logging"
	"github.com/lox/tenki/internal/registry"
)

const DefaultTimeout = 30 * time.Second

// Conn is the subset of *ftp.ServerConn the uploader uses.
type Conn interface {
	Login(user, password string) error
	ChangeDir(path string) error
	MakeDir(path string) error
	Stor(path string, r io.Reader) error
	Quit() error
}

// Dialer opens a connection; the default dials with jlaffaye/ftp.
type Dialer func(ctx context.Context, addr string, timeout time.Duration) (Conn, error)

func dialFTP(ctx context.Context, addr string, timeout time.Duration) (Conn, error) {
	return ftp.Dial(addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
}

type Config struct {
	Addr     string // host:port
	User     string
	Password string
	Dir      string
	Timeout  time.Duration
	Dial     Dialer
	Logger   *slog.Logger
}

type Uploader struct {
	cfg Config
}

func New(cfg Config) (*Uploader, error) {
	if cfg.Addr == "" {
		return nil, errors.New("archive: FTP address not set")
	}
	if cfg.User == "" {
		cfg.User, cfg.Password = "anonymous", "anonymous"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dial == nil {
		cfg.Dial = dialFTP
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Uploader{cfg: cfg}, nil
}

// FileName is the archive name for an export taken on date.
func FileName(date time.Time) string {
	return fmt.Sprintf("tenki-history-%s.csv", date.Format("20060102"))
}

// Upload stores r as name in the configured directory, creating it if needed.
func (u *Uploader) Upload(ctx context.Context, name string, r io.Reader) error {
	conn, err := u.cfg.Dial(ctx, u.cfg.Addr, u.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(u.cfg.User, u.cfg.Password); err != nil {
		return fmt.Errorf("ftp login: %w", err)
	}

	if u.cfg.Dir != "" {
		if err := conn.ChangeDir(u.cfg.Dir); err != nil {
			if err := conn.MakeDir(u.cfg.Dir); err != nil {
				return fmt.Errorf("ftp mkdir %s: %w", u.cfg.Dir, err)
			}
			if err := conn.ChangeDir(u.cfg.Dir); err != nil {
				return fmt.Errorf("ftp cwd %s: %w", u.cfg.Dir, err)
			}
		}
	}

	if err := conn.Stor(name, r); err != nil {
		return fmt.Errorf("ftp stor %s: %w", name, err)
	}

	u.cfg.Logger.Info("archive: uploaded", "addr", u.cfg.Addr, "path", path.Join(u.cfg.Dir, name))
	return nil
}

// UploadTable writes t as CSV and uploads it under FileName(now).
func (u *Uploader) UploadTable(ctx context.Context, t history.Table, reg registry.Registry, now time.Time) (string, error) {
	var buf bytes.Buffer
	if err := history.WriteCSV(&buf, t, reg); err != nil {
		return "", fmt.Errorf("encode csv: %w", err)
	}
	name := FileName(now)
	if err := u.Upload(ctx, name, &buf); err != nil {
		return "", err
	}
	return name, nil
}
