package ftpd

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"telegate/internal/auth"
	"telegate/internal/logging"
)

type completion struct {
	name     string
	tempPath string
	content  string
}

func newTestFs(t *testing.T, perms auth.Permissions) (*sessionFs, string, *[]completion) {
	t.Helper()
	root := t.TempDir()
	var done []completion
	sfs, err := newSessionFs(auth.Grant{Username: "user", Root: root, Perms: perms}, func(name, tempPath string) {
		data, _ := os.ReadFile(tempPath)
		done = append(done, completion{name: name, tempPath: tempPath, content: string(data)})
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("newSessionFs: %v", err)
	}
	return sfs, root, &done
}

func TestUploadCloseSignalsCompletion(t *testing.T) {
	sfs, root, done := newTestFs(t, "elradfmw")

	f, err := sfs.OpenFile("/[Main FAN]_CH0_1.csv", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.Write([]byte("1,2,3")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if len(*done) != 1 {
		t.Fatalf("completions = %d, want 1", len(*done))
	}
	got := (*done)[0]
	if got.name != "/[Main FAN]_CH0_1.csv" || got.content != "1,2,3" {
		t.Fatalf("completion = %+v", got)
	}
	if filepath.Dir(got.tempPath) != filepath.Join(root, IncomingDir) {
		t.Fatalf("temp path %q not staged under %s", got.tempPath, IncomingDir)
	}
	if _, err := os.Stat(filepath.Join(root, "[Main FAN]_CH0_1.csv")); !os.IsNotExist(err) {
		t.Fatalf("upload must not land at the requested path, stat err=%v", err)
	}
}

func TestUploadTransferErrorDiscards(t *testing.T) {
	sfs, _, done := newTestFs(t, "elradfmw")

	f, err := sfs.Create("/partial.bin")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	up := f.(*uploadFile)
	if _, err := f.Write([]byte("half")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	up.TransferError(errors.New("connection reset"))
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(*done) != 0 {
		t.Fatalf("aborted upload must not complete: %+v", *done)
	}
	if _, err := os.Stat(up.tempPath); !os.IsNotExist(err) {
		t.Fatalf("partial file should be removed, stat err=%v", err)
	}
}

func TestPermissionsEnforced(t *testing.T) {
	sfs, root, _ := newTestFs(t, "elr")
	if err := os.WriteFile(filepath.Join(root, "existing.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	checks := []struct {
		name string
		err  error
	}{
		{"store", func() error { _, err := sfs.Create("/new.bin"); return err }()},
		{"append", func() error {
			_, err := sfs.OpenFile("/existing.txt", os.O_WRONLY|os.O_APPEND, 0o644)
			return err
		}()},
		{"mkdir", sfs.Mkdir("/sub", 0o755)},
		{"delete", sfs.Remove("/existing.txt")},
		{"rename", sfs.Rename("/existing.txt", "/moved.txt")},
		{"chown", sfs.Chown("/existing.txt", 0, 0)},
	}
	for _, tc := range checks {
		if !errors.Is(tc.err, fs.ErrPermission) {
			t.Errorf("%s: err = %v, want permission denied", tc.name, tc.err)
		}
	}

	f, err := sfs.Open("/existing.txt")
	if err != nil {
		t.Fatalf("read should be allowed: %v", err)
	}
	_ = f.Close()
}

func TestWriteOnlyUserCannotRead(t *testing.T) {
	sfs, root, _ := newTestFs(t, "w")
	if err := os.WriteFile(filepath.Join(root, "existing.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := sfs.Open("/existing.txt"); !errors.Is(err, fs.ErrPermission) {
		t.Fatalf("Open err = %v, want permission denied", err)
	}
	if _, err := sfs.Open("/"); !errors.Is(err, fs.ErrPermission) {
		t.Fatalf("list err = %v, want permission denied", err)
	}
}

func TestIncomingDirHidden(t *testing.T) {
	sfs, root, _ := newTestFs(t, "elradfmw")
	if err := os.WriteFile(filepath.Join(root, "visible.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	dir, err := sfs.Open("/")
	if err != nil {
		t.Fatalf("Open root: %v", err)
	}
	defer dir.Close()
	infos, err := dir.Readdir(-1)
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	for _, info := range infos {
		if info.Name() == IncomingDir {
			t.Fatalf("%s must not be listed", IncomingDir)
		}
	}
	if len(infos) != 1 {
		t.Fatalf("listed %d entries, want 1", len(infos))
	}

	if _, err := sfs.Stat("/" + IncomingDir); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Stat staging dir err = %v, want not exist", err)
	}
	if _, err := sfs.Create("/" + IncomingDir + "/x.part"); !errors.Is(err, fs.ErrPermission) {
		t.Fatalf("Create inside staging dir err = %v, want permission denied", err)
	}
	if err := sfs.RemoveAll("/"); !errors.Is(err, fs.ErrPermission) {
		t.Fatalf("RemoveAll root err = %v, want permission denied", err)
	}
}
