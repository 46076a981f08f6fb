package kern

// File-descriptor system calls. Descriptors are per-process indexes
// into p.ofile; the handles themselves live in the kernel file table.

// argFd fetches argument n as a file descriptor and resolves it.
func argFd(p *Proc, n int) (int, *File, error) {
	fd := argInt(p, n)
	if fd < 0 || fd >= NOFILE || p.ofile[fd] == nil {
		return -1, nil, ErrBadFd
	}
	return fd, p.ofile[fd], nil
}

// fdAlloc installs f in the lowest free descriptor slot.
func fdAlloc(p *Proc, f *File) (int, error) {
	for fd := 0; fd < NOFILE; fd++ {
		if p.ofile[fd] == nil {
			p.ofile[fd] = f
			return fd, nil
		}
	}
	return -1, ErrBadFd
}

// pipe(fdarray): create a pipe and store the read and write
// descriptors as two 64-bit values at the given user address.
func (k *Kernel) sysPipe(p *Proc) (uint64, error) {
	addr := argRaw(p, 0)

	rf, wf, err := k.pipeAlloc()
	if err != nil {
		return 0, err
	}
	rfd, err := fdAlloc(p, rf)
	if err != nil {
		k.fileClose(rf)
		k.fileClose(wf)
		return 0, err
	}
	wfd, err := fdAlloc(p, wf)
	if err != nil {
		p.ofile[rfd] = nil
		k.fileClose(rf)
		k.fileClose(wf)
		return 0, err
	}
	err = p.as.store(addr, uint64(rfd))
	if err == nil {
		err = p.as.store(addr+8, uint64(wfd))
	}
	if err != nil {
		p.ofile[rfd] = nil
		p.ofile[wfd] = nil
		k.fileClose(rf)
		k.fileClose(wf)
		return 0, err
	}
	return 0, nil
}

// read(fd, addr, n)
func (k *Kernel) sysRead(p *Proc) (uint64, error) {
	_, f, err := argFd(p, 0)
	if err != nil {
		return 0, err
	}
	addr := argRaw(p, 1)
	n := argInt(p, 2)
	got, err := k.fileRead(p, f, addr, n)
	if err != nil {
		return 0, err
	}
	return uint64(got), nil
}

// write(fd, addr, n)
func (k *Kernel) sysWrite(p *Proc) (uint64, error) {
	_, f, err := argFd(p, 0)
	if err != nil {
		return 0, err
	}
	addr := argRaw(p, 1)
	n := argInt(p, 2)
	wrote, err := k.fileWrite(p, f, addr, n)
	if err != nil {
		return 0, err
	}
	return uint64(wrote), nil
}

// close(fd)
func (k *Kernel) sysClose(p *Proc) (uint64, error) {
	fd, f, err := argFd(p, 0)
	if err != nil {
		return 0, err
	}
	p.ofile[fd] = nil
	k.fileClose(f)
	return 0, nil
}

// dup(fd): second descriptor for the same open file.
func (k *Kernel) sysDup(p *Proc) (uint64, error) {
	_, f, err := argFd(p, 0)
	if err != nil {
		return 0, err
	}
	fd, err := fdAlloc(p, f)
	if err != nil {
		return 0, err
	}
	k.fileDup(f)
	return uint64(fd), nil
}
