package kern

import "errors"

const (
	NOFILE   = 16  // open files per process
	NFILE    = 100 // open files per system
	PipeSize = 512
)

var (
	ErrNoFile     = errors.New("file table full")
	ErrBadFd      = errors.New("bad file descriptor")
	ErrBrokenPipe = errors.New("pipe closed on other end")
)

type fileType int

const (
	fdNone fileType = iota
	fdPipe
	fdDevice
)

// File is a shared open-file handle. Forked processes and duplicated
// descriptors refer to the same File; the reference count decides when
// the underlying object goes away. Refcounts are guarded by the global
// file-table lock.
type File struct {
	typ      fileType
	ref      int
	readable bool
	writable bool
	pipe     *Pipe
	dev      *Console
}

type ftable struct {
	lock  Spinlock
	files [NFILE]File
}

func newFtable() *ftable {
	ft := &ftable{}
	initlock(&ft.lock, "ftable")
	return ft
}

// fileAlloc claims a free slot in the global open-file table.
func (k *Kernel) fileAlloc() (*File, error) {
	ft := k.ftable
	ft.lock.acquire()
	defer ft.lock.release()
	for i := range ft.files {
		f := &ft.files[i]
		if f.ref == 0 {
			f.ref = 1
			return f, nil
		}
	}
	return nil, ErrNoFile
}

// fileDup takes one more reference on an open file.
func (k *Kernel) fileDup(f *File) *File {
	k.ftable.lock.acquire()
	if f.ref < 1 {
		panic("fileDup: file not open")
	}
	f.ref++
	k.ftable.lock.release()
	return f
}

// fileClose drops one reference; the last release closes the
// underlying object.
func (k *Kernel) fileClose(f *File) {
	k.ftable.lock.acquire()
	if f.ref < 1 {
		panic("fileClose: file not open")
	}
	f.ref--
	if f.ref > 0 {
		k.ftable.lock.release()
		return
	}
	ff := *f
	f.typ = fdNone
	f.pipe = nil
	f.dev = nil
	k.ftable.lock.release()

	if ff.typ == fdPipe {
		ff.pipe.close(ff.writable)
	}
}

// fileRead moves up to n bytes from the file into the process's
// memory at addr, returning the count.
func (k *Kernel) fileRead(p *Proc, f *File, addr uint64, n int) (int, error) {
	if !f.readable {
		return 0, ErrBadFd
	}
	switch f.typ {
	case fdPipe:
		return f.pipe.read(k, p, addr, n)
	case fdDevice:
		return f.dev.read(k, p, addr, n)
	}
	panic("fileRead: unknown file type")
}

// fileWrite moves n bytes from the process's memory at addr into the
// file.
func (k *Kernel) fileWrite(p *Proc, f *File, addr uint64, n int) (int, error) {
	if !f.writable {
		return 0, ErrBadFd
	}
	switch f.typ {
	case fdPipe:
		return f.pipe.write(k, p, addr, n)
	case fdDevice:
		return f.dev.write(k, p, addr, n)
	}
	panic("fileWrite: unknown file type")
}

// Pipe is a byte ring shared by a read end and a write end. Readers
// and writers block through the sleep/wakeup protocol, with the pipe's
// own lock as the condition lock. The counters are the channels: a
// reader sleeps on nread until nwrite moves, and vice versa.
type Pipe struct {
	k         *Kernel
	lock      Spinlock
	data      [PipeSize]byte
	nread     uint32 // bytes read so far
	nwrite    uint32 // bytes written so far
	readopen  bool
	writeopen bool
}

// pipeAlloc builds a pipe and its two file handles.
func (k *Kernel) pipeAlloc() (rf, wf *File, err error) {
	rf, err = k.fileAlloc()
	if err != nil {
		return nil, nil, err
	}
	wf, err = k.fileAlloc()
	if err != nil {
		k.fileClose(rf)
		return nil, nil, err
	}
	pi := &Pipe{k: k, readopen: true, writeopen: true}
	initlock(&pi.lock, "pipe")
	rf.typ = fdPipe
	rf.readable = true
	rf.writable = false
	rf.pipe = pi
	wf.typ = fdPipe
	wf.readable = false
	wf.writable = true
	wf.pipe = pi
	return rf, wf, nil
}

func (pi *Pipe) close(writable bool) {
	pi.lock.acquire()
	if writable {
		pi.writeopen = false
		pi.k.wakeup(&pi.nread)
	} else {
		pi.readopen = false
		pi.k.wakeup(&pi.nwrite)
	}
	pi.lock.release()
}

func (pi *Pipe) write(k *Kernel, p *Proc, addr uint64, n int) (int, error) {
	src, err := p.as.readBytes(addr, n)
	if err != nil {
		return 0, err
	}

	pi.lock.acquire()
	i := 0
	for i < n {
		if !pi.readopen || p.Killed() {
			pi.lock.release()
			return 0, ErrBrokenPipe
		}
		if pi.nwrite == pi.nread+PipeSize {
			// buffer full: wake readers, wait for room
			k.wakeup(&pi.nread)
			k.sleep(p, &pi.nwrite, &pi.lock)
			continue
		}
		pi.data[pi.nwrite%PipeSize] = src[i]
		pi.nwrite++
		i++
	}
	k.wakeup(&pi.nread)
	pi.lock.release()
	return i, nil
}

func (pi *Pipe) read(k *Kernel, p *Proc, addr uint64, n int) (int, error) {
	pi.lock.acquire()
	for pi.nread == pi.nwrite && pi.writeopen {
		if p.Killed() {
			pi.lock.release()
			return 0, ErrKilled
		}
		k.sleep(p, &pi.nread, &pi.lock)
	}
	// Copy out before consuming: a byte leaves the ring only once it
	// has landed in the reader's memory, so a bad address cannot
	// destroy data. A failure mid-transfer reports the partial count.
	i := 0
	for i < n && pi.nread != pi.nwrite {
		b := pi.data[pi.nread%PipeSize]
		if err := p.as.writeBytes(addr+uint64(i), []byte{b}); err != nil {
			if i == 0 {
				pi.lock.release()
				return 0, err
			}
			break
		}
		pi.nread++
		i++
	}
	k.wakeup(&pi.nwrite)
	pi.lock.release()
	return i, nil
}
