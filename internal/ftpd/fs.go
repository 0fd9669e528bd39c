package ftpd

import (
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"telegate/internal/auth"
	"telegate/internal/logging"
)

// IncomingDir holds partially received uploads inside each user root. It is
// hidden from listings and unreachable through FTP paths.
const IncomingDir = ".telegate-incoming"

const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_APPEND | os.O_CREATE | os.O_TRUNC

// completeFunc hands a fully written upload to the ingest pipeline.
type completeFunc func(name, tempPath string)

// sessionFs is the afero filesystem one logged-in client sees: the granted
// root, filtered through the session's permissions. Writes never land at the
// requested path; they are staged under IncomingDir and routed on close.
type sessionFs struct {
	afero.Fs
	incoming string
	perms    auth.Permissions
	complete completeFunc
	logger   *slog.Logger
}

func newSessionFs(grant auth.Grant, complete completeFunc, logger *slog.Logger) (*sessionFs, error) {
	incoming := filepath.Join(grant.Root, IncomingDir)
	if err := os.MkdirAll(incoming, 0o755); err != nil {
		return nil, err
	}
	return &sessionFs{
		Fs:       afero.NewBasePathFs(afero.NewOsFs(), grant.Root),
		incoming: incoming,
		perms:    grant.Perms,
		complete: complete,
		logger:   logger,
	}, nil
}

func denied(op, name string) error {
	return &fs.PathError{Op: op, Path: name, Err: fs.ErrPermission}
}

func hidden(name string) bool {
	clean := path.Clean("/" + filepath.ToSlash(name))
	return clean == "/"+IncomingDir || strings.HasPrefix(clean, "/"+IncomingDir+"/")
}

func (f *sessionFs) Name() string { return "telegate" }

func (f *sessionFs) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

func (f *sessionFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&writeFlags == 0 {
		return f.Open(name)
	}
	if hidden(name) {
		return nil, denied("open", name)
	}
	allowed := f.perms.CanWrite()
	if flag&os.O_APPEND != 0 {
		allowed = f.perms.CanAppend()
	}
	if !allowed {
		return nil, denied("open", name)
	}
	return f.stage(name)
}

func (f *sessionFs) stage(name string) (afero.File, error) {
	tempPath := filepath.Join(f.incoming, uuid.NewString()+".part")
	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	return &uploadFile{File: file, name: name, tempPath: tempPath, fs: f}, nil
}

func (f *sessionFs) Open(name string) (afero.File, error) {
	if hidden(name) {
		return nil, denied("open", name)
	}
	info, err := f.Fs.Stat(name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		if !f.perms.CanList() {
			return nil, denied("open", name)
		}
		file, err := f.Fs.Open(name)
		if err != nil {
			return nil, err
		}
		return &listingFile{File: file}, nil
	}
	if !f.perms.CanRead() {
		return nil, denied("open", name)
	}
	return f.Fs.Open(name)
}

func (f *sessionFs) Stat(name string) (os.FileInfo, error) {
	if hidden(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	info, err := f.Fs.Stat(name)
	if err == nil && info.IsDir() && !f.perms.CanChdir() && path.Clean("/"+name) != "/" {
		return nil, denied("stat", name)
	}
	return info, err
}

func (f *sessionFs) Mkdir(name string, perm os.FileMode) error {
	if hidden(name) || !f.perms.CanMkdir() {
		return denied("mkdir", name)
	}
	return f.Fs.Mkdir(name, perm)
}

func (f *sessionFs) MkdirAll(name string, perm os.FileMode) error {
	if hidden(name) || !f.perms.CanMkdir() {
		return denied("mkdir", name)
	}
	return f.Fs.MkdirAll(name, perm)
}

func (f *sessionFs) Remove(name string) error {
	if hidden(name) || !f.perms.CanDelete() {
		return denied("remove", name)
	}
	return f.Fs.Remove(name)
}

func (f *sessionFs) RemoveAll(name string) error {
	if hidden(name) || !f.perms.CanDelete() || path.Clean("/"+name) == "/" {
		return denied("remove", name)
	}
	return f.Fs.RemoveAll(name)
}

func (f *sessionFs) Rename(oldname, newname string) error {
	if hidden(oldname) || hidden(newname) || !f.perms.CanRename() {
		return denied("rename", oldname)
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *sessionFs) Chmod(name string, mode os.FileMode) error {
	if hidden(name) || !f.perms.CanChmod() {
		return denied("chmod", name)
	}
	return f.Fs.Chmod(name, mode)
}

func (f *sessionFs) Chtimes(name string, atime, mtime time.Time) error {
	if hidden(name) || !f.perms.CanChtimes() {
		return denied("chtimes", name)
	}
	return f.Fs.Chtimes(name, atime, mtime)
}

func (f *sessionFs) Chown(name string, uid, gid int) error {
	return denied("chown", name)
}

// uploadFile is a staged upload. Close after a clean transfer hands it to the
// ingest pipeline; a transfer error discards it.
type uploadFile struct {
	afero.File
	name     string
	tempPath string
	fs       *sessionFs
	failed   error
	closed   bool
}

// TransferError is called by the FTP framework when the data connection
// fails before Close.
func (u *uploadFile) TransferError(err error) {
	u.failed = err
}

func (u *uploadFile) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	closeErr := u.File.Close()
	if closeErr == nil && u.failed == nil {
		u.fs.complete(u.name, u.tempPath)
		return nil
	}
	cause := u.failed
	if cause == nil {
		cause = closeErr
	}
	if err := os.Remove(u.tempPath); err != nil && !os.IsNotExist(err) {
		u.fs.logger.Debug("failed to remove partial upload", logging.String("path", u.tempPath), logging.Error(err))
	}
	logging.WarnWithContext(u.fs.logger, "upload aborted; partial file discarded", "upload_aborted",
		logging.String(logging.FieldFilename, u.name),
		logging.Error(cause),
		logging.String(logging.FieldImpact, "file was not stored; the instrument must resend it"),
		logging.String(logging.FieldErrorHint, "check network stability between instrument and gateway"),
	)
	return closeErr
}

// listingFile hides IncomingDir from directory listings.
type listingFile struct {
	afero.File
}

func (l *listingFile) Readdir(count int) ([]os.FileInfo, error) {
	infos, err := l.File.Readdir(count)
	out := infos[:0]
	for _, info := range infos {
		if info.Name() != IncomingDir {
			out = append(out, info)
		}
	}
	return out, err
}

func (l *listingFile) Readdirnames(n int) ([]string, error) {
	names, err := l.File.Readdirnames(n)
	out := names[:0]
	for _, name := range names {
		if name != IncomingDir {
			out = append(out, name)
		}
	}
	return out, err
}
