package mirrorring

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const shmDir = "/dev/shm"

// createBacking opens the file-like object the mirror mapping sits on:
// memfd_create for an unnamed (process-private) ring -- it needs no
// filesystem presence, just an fd two mmap calls can share -- or an
// exclusively-created file under /dev/shm for a named ring any process
// can Attach to by name. size is the full header+data length.
func createBacking(name string, size int) (fd int, err error) {
	if name == "" {
		fd, err = unix.MemfdCreate("mirrorring", unix.MFD_CLOEXEC)
		if err != nil {
			return -1, fmt.Errorf("mirrorring: memfd_create: %w", err)
		}
	} else {
		if len(name) > 63 {
			return -1, fmt.Errorf("mirrorring: name %q exceeds 63 bytes", name)
		}
		f, ferr := os.OpenFile(shmPath(name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
		if ferr != nil {
			return -1, fmt.Errorf("mirrorring: create shared-memory object %q: %w", name, ferr)
		}
		fd = int(f.Fd())
		// f owns a *os.File finalizer that would close fd underneath us;
		// detach it from fd's lifetime, which the Ring now owns directly.
		if dupFd, dupErr := unix.Dup(fd); dupErr == nil {
			_ = f.Close()
			fd = dupFd
		}
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("mirrorring: ftruncate: %w", err)
	}
	return fd, nil
}

// openBacking opens an existing named ring's backing file for Attach.
func openBacking(name string) (fd int, size int64, err error) {
	f, ferr := os.OpenFile(shmPath(name), os.O_RDWR, 0)
	if ferr != nil {
		return -1, 0, fmt.Errorf("mirrorring: attach %q: %w", name, ferr)
	}
	defer f.Close()
	st, serr := f.Stat()
	if serr != nil {
		return -1, 0, fmt.Errorf("mirrorring: stat %q: %w", name, serr)
	}
	dupFd, dupErr := unix.Dup(int(f.Fd()))
	if dupErr != nil {
		return -1, 0, fmt.Errorf("mirrorring: dup %q: %w", name, dupErr)
	}
	return dupFd, st.Size(), nil
}

func shmPath(name string) string {
	return shmDir + "/" + name
}

// unlinkBacking removes a named ring's backing file, the Destroy half of
// the name/mapping split §3 describes (Detach only unmaps).
func unlinkBacking(name string) error {
	if err := os.Remove(shmPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("mirrorring: destroy %q: %w", name, err)
	}
	return nil
}
