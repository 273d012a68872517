package connector

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/orderbridge/backend/internal/domain/ingestion"
)

// sftpDialTimeout bounds the SSH handshake
const sftpDialTimeout = 15 * time.Second

// SFTPConnector pulls EDI files from a partner SFTP directory. A file is the
// unit of work: ListAvailable returns matching files oldest first, Fetch
// downloads one, and Acknowledge moves it into the archive directory so the
// next poll no longer sees it.
//
// The SSH session is established lazily and re-established after transport
// failures, so one broken cycle does not poison the connector.
type SFTPConnector struct {
	desc         ingestion.SourceDescriptor
	logger       *zap.Logger
	hostKeyCheck ssh.HostKeyCallback

	mu      sync.Mutex
	sshConn *ssh.Client
	client  *sftp.Client
}

// NewSFTPConnector creates a connector for an SFTP source descriptor.
// Connection problems surface on first use; an unreadable known_hosts file is
// a configuration error and surfaces here.
func NewSFTPConnector(desc ingestion.SourceDescriptor, logger *zap.Logger) (*SFTPConnector, error) {
	if desc.Kind != ingestion.SourceKindSFTP {
		return nil, fmt.Errorf("connector: descriptor %s is not an SFTP source", desc.ID)
	}
	p := desc.SFTP
	if p.Host == "" || p.User == "" {
		return nil, &ingestion.FatalConfigurationError{SourceID: desc.ID, Reason: "SFTP host or user is empty"}
	}
	if p.Password == "" && p.PrivateKeyPath == "" {
		return nil, &ingestion.FatalConfigurationError{SourceID: desc.ID, Reason: "no SFTP credential configured"}
	}
	if p.Dir == "" || p.ArchiveDir == "" {
		return nil, &ingestion.FatalConfigurationError{SourceID: desc.ID, Reason: "SFTP directory or archive directory is empty"}
	}

	// Some partners rotate host keys without notice and cannot provide a
	// known_hosts file; for those, identity is carried by the credential alone.
	hostKeyCheck := ssh.InsecureIgnoreHostKey()
	if p.KnownHostsPath != "" {
		check, err := knownhosts.New(p.KnownHostsPath)
		if err != nil {
			return nil, &ingestion.FatalConfigurationError{
				SourceID: desc.ID,
				Reason:   fmt.Sprintf("cannot load known_hosts %s: %v", p.KnownHostsPath, err),
			}
		}
		hostKeyCheck = check
	}

	return &SFTPConnector{desc: desc, logger: logger, hostKeyCheck: hostKeyCheck}, nil
}

// SourceID returns the source this connector serves
func (c *SFTPConnector) SourceID() string {
	return c.desc.ID
}

// ListAvailable lists matching remote files oldest first
func (c *SFTPConnector) ListAvailable(ctx context.Context) ([]ingestion.MessageHandle, error) {
	client, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := client.ReadDir(c.desc.SFTP.Dir)
	if err != nil {
		c.disconnect()
		return nil, ingestion.NewTransientSourceError(c.desc.ID, "list", err)
	}

	pattern := c.desc.SFTP.Pattern
	files := make([]os.FileInfo, 0, len(entries))
	for _, fi := range entries {
		if fi.IsDir() {
			continue
		}
		if pattern != "" {
			if ok, _ := path.Match(pattern, fi.Name()); !ok {
				continue
			}
		}
		files = append(files, fi)
	}

	// Oldest first, name as tiebreaker, so arrival order is stable across polls
	sort.Slice(files, func(i, j int) bool {
		if !files[i].ModTime().Equal(files[j].ModTime()) {
			return files[i].ModTime().Before(files[j].ModTime())
		}
		return files[i].Name() < files[j].Name()
	})

	handles := make([]ingestion.MessageHandle, 0, len(files))
	for _, fi := range files {
		handles = append(handles, ingestion.MessageHandle{
			ID:     fi.Name(),
			Origin: c.remoteURL(path.Join(c.desc.SFTP.Dir, fi.Name())),
		})
	}
	return handles, nil
}

// Fetch downloads one remote file
func (c *SFTPConnector) Fetch(ctx context.Context, handle ingestion.MessageHandle) (*ingestion.RawMessage, error) {
	client, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	remotePath := path.Join(c.desc.SFTP.Dir, handle.ID)
	f, err := client.Open(remotePath)
	if err != nil {
		c.disconnect()
		return nil, ingestion.NewTransientSourceError(c.desc.ID, "fetch", err)
	}
	defer f.Close()

	body, err := io.ReadAll(f)
	if err != nil {
		c.disconnect()
		return nil, ingestion.NewTransientSourceError(c.desc.ID, "fetch", err)
	}

	return &ingestion.RawMessage{Handle: handle, Body: body, ReceivedAt: time.Now()}, nil
}

// Acknowledge moves the file into the archive directory. The rename is
// atomic on the server side, so a file never appears in both directories;
// a handle whose file is already archived acknowledges as a no-op.
func (c *SFTPConnector) Acknowledge(ctx context.Context, handle ingestion.MessageHandle) error {
	client, err := c.ensureConnected(ctx)
	if err != nil {
		return err
	}

	src := path.Join(c.desc.SFTP.Dir, handle.ID)
	dst := path.Join(c.desc.SFTP.ArchiveDir, handle.ID)

	if err := client.MkdirAll(c.desc.SFTP.ArchiveDir); err != nil {
		c.disconnect()
		return ingestion.NewTransientSourceError(c.desc.ID, "acknowledge", err)
	}

	if _, err := client.Stat(src); err != nil {
		if _, archivedErr := client.Stat(dst); archivedErr == nil {
			// A previous acknowledge got through before we saw its result
			return nil
		}
		c.disconnect()
		return ingestion.NewTransientSourceError(c.desc.ID, "acknowledge", err)
	}

	// A name collision in the archive means a partner re-sent a file under the
	// same name after we archived it; keep both copies for audit.
	if _, err := client.Stat(dst); err == nil {
		dst = fmt.Sprintf("%s.%d", dst, time.Now().Unix())
	}

	if err := client.PosixRename(src, dst); err != nil {
		c.disconnect()
		return ingestion.NewTransientSourceError(c.desc.ID, "acknowledge", err)
	}

	c.logger.Debug("Archived source file",
		zap.String("source_id", c.desc.ID),
		zap.String("file", handle.ID),
		zap.String("archive_path", dst),
	)
	return nil
}

// Close tears down the SFTP session
func (c *SFTPConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

// ---------------------------------------------------------------------------
// Session management
// ---------------------------------------------------------------------------

func (c *SFTPConnector) ensureConnected(ctx context.Context) (*sftp.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            c.desc.SFTP.User,
		Auth:            auth,
		HostKeyCallback: c.hostKeyCheck,
		Timeout:         sftpDialTimeout,
	}

	addr := fmt.Sprintf("%s:%d", c.desc.SFTP.Host, c.portOrDefault())
	sshConn, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &ingestion.FatalConfigurationError{
				SourceID: c.desc.ID,
				Reason:   fmt.Sprintf("SFTP authentication rejected by %s", addr),
			}
		}
		return nil, ingestion.NewTransientSourceError(c.desc.ID, "connect", err)
	}

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return nil, ingestion.NewTransientSourceError(c.desc.ID, "connect", err)
	}

	c.sshConn = sshConn
	c.client = client
	c.logger.Debug("Established SFTP session",
		zap.String("source_id", c.desc.ID),
		zap.String("addr", addr),
	)
	return client, nil
}

func (c *SFTPConnector) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if keyPath := c.desc.SFTP.PrivateKeyPath; keyPath != "" {
		keyBytes, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, &ingestion.FatalConfigurationError{
				SourceID: c.desc.ID,
				Reason:   fmt.Sprintf("cannot read private key %s: %v", keyPath, err),
			}
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, &ingestion.FatalConfigurationError{
				SourceID: c.desc.ID,
				Reason:   fmt.Sprintf("cannot parse private key %s: %v", keyPath, err),
			}
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if c.desc.SFTP.Password != "" {
		methods = append(methods, ssh.Password(c.desc.SFTP.Password))
	}
	return methods, nil
}

// disconnect drops the session so the next call redials
func (c *SFTPConnector) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.closeLocked()
}

func (c *SFTPConnector) closeLocked() error {
	var err error
	if c.client != nil {
		err = c.client.Close()
		c.client = nil
	}
	if c.sshConn != nil {
		if closeErr := c.sshConn.Close(); err == nil {
			err = closeErr
		}
		c.sshConn = nil
	}
	return err
}

func (c *SFTPConnector) portOrDefault() int {
	if c.desc.SFTP.Port > 0 {
		return c.desc.SFTP.Port
	}
	return 22
}

func (c *SFTPConnector) remoteURL(remotePath string) string {
	return fmt.Sprintf("sftp://%s%s", c.desc.SFTP.Host, remotePath)
}
