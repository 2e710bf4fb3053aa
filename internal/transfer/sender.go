package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/terms-cli/internal/config"
)

// Sender delivers one file to the destination system and reads it back for
// verification. Implementations must overwrite on resend, since the gateway
// retries the same remote name.
type Sender interface {
	Name() string
	Send(ctx context.Context, localPath, remoteName string) error
	Fetch(ctx context.Context, remoteName string) ([]byte, error)
}

// NewSender builds the configured sender.
func NewSender(cfg config.TransferConfig) (Sender, error) {
	switch cfg.Sender {
	case "", "local":
		return &localSender{destDir: cfg.DestDir}, nil
	case "ftp":
		if cfg.FTPAddr == "" {
			return nil, eris.New("transfer: ftp sender requires transfer.ftp_addr")
		}
		return &ftpSender{cfg: cfg}, nil
	default:
		return nil, eris.Errorf("transfer: unknown sender %q", cfg.Sender)
	}
}

// localSender copies files into a destination directory. Used for on-host
// handoff and in tests.
type localSender struct {
	destDir string
}

func (s *localSender) Name() string { return "local" }

func (s *localSender) Send(_ context.Context, localPath, remoteName string) error {
	if err := os.MkdirAll(s.destDir, 0o755); err != nil {
		return eris.Wrap(err, "transfer: create dest dir")
	}

	src, err := os.Open(localPath)
	if err != nil {
		return eris.Wrap(err, "transfer: open source")
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(s.destDir, remoteName))
	if err != nil {
		return eris.Wrap(err, "transfer: create destination")
	}
	defer dst.Close()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(dst, h), src); err != nil {
		return eris.Wrap(err, "transfer: copy")
	}
	if err := dst.Sync(); err != nil {
		return eris.Wrap(err, "transfer: sync destination")
	}

	// Checksum sidecar, so the receiving side can verify without us.
	sidecar := filepath.Join(s.destDir, remoteName+".sha256")
	sum := hex.EncodeToString(h.Sum(nil)) + "  " + remoteName + "\n"
	return eris.Wrap(os.WriteFile(sidecar, []byte(sum), 0o644), "transfer: write checksum sidecar")
}

func (s *localSender) Fetch(_ context.Context, remoteName string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.destDir, remoteName))
	return data, eris.Wrap(err, "transfer: read back destination")
}

// ftpSender delivers files over FTP. A fresh connection per operation keeps
// the gateway free of connection state between retry attempts.
type ftpSender struct {
	cfg config.TransferConfig
}

func (s *ftpSender) Name() string { return "ftp" }

func (s *ftpSender) connect(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(s.cfg.FTPAddr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return nil, eris.Wrapf(err, "transfer: dial ftp %s", s.cfg.FTPAddr)
	}
	if err := conn.Login(s.cfg.FTPUser, s.cfg.FTPPass); err != nil {
		conn.Quit()
		return nil, eris.Wrap(err, "transfer: ftp login")
	}
	if s.cfg.FTPDir != "" {
		if err := conn.ChangeDir(s.cfg.FTPDir); err != nil {
			conn.Quit()
			return nil, eris.Wrapf(err, "transfer: ftp chdir %s", s.cfg.FTPDir)
		}
	}
	return conn, nil
}

func (s *ftpSender) Send(ctx context.Context, localPath, remoteName string) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	f, err := os.Open(localPath)
	if err != nil {
		return eris.Wrap(err, "transfer: open source")
	}
	defer f.Close()

	return eris.Wrapf(conn.Stor(remoteName, f), "transfer: ftp store %s", remoteName)
}

func (s *ftpSender) Fetch(ctx context.Context, remoteName string) ([]byte, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	resp, err := conn.Retr(remoteName)
	if err != nil {
		return nil, eris.Wrapf(err, "transfer: ftp retrieve %s", remoteName)
	}
	defer resp.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp); err != nil {
		return nil, eris.Wrap(err, "transfer: ftp read")
	}
	return buf.Bytes(), nil
}
