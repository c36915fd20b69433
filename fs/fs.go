// Package fs supplies the narrow filesystem surface the vm and loader
// packages depend on as an external collaborator (spec §6.1): opening
// a path yields a file with read, mmap, and nopage. ext2 parsing,
// procfs synthesis, and the on-disk block cache are filesystem
// internals this kernel's core explicitly does not model -- a real
// boot image links a real filesystem satisfying the same fdops.Fdops_i
// interface in its place.
package fs

import (
	"sync"

	"defs"
	"fdops"
	"mem"
)

// Inode_t is the reference-counted, byte-addressable backing store for
// a file. Its content lives entirely in kernel memory; there is no
// on-disk representation, matching this package's role as a minimal
// stand-in rather than a real filesystem.
type Inode_t struct {
	sync.Mutex
	data  []uint8
	refs  int
	isdir bool
}

func (ino *Inode_t) Get() { ino.Lock(); ino.refs++; ino.Unlock() }

func (ino *Inode_t) Put() {
	ino.Lock()
	ino.refs--
	ino.Unlock()
}

// Dentry_t names an inode within the tree rooted at the filesystem's
// mount point.
type Dentry_t struct {
	Name  string
	Inode *Inode_t
}

// Fs_t is a tiny in-memory filesystem: a flat map from absolute path
// to dentry, enough to exercise open/read/mmap without pulling in an
// on-disk format.
type Fs_t struct {
	sync.Mutex
	ents map[string]*Dentry_t
}

func MkFs() *Fs_t {
	return &Fs_t{ents: make(map[string]*Dentry_t)}
}

// Create installs path with the given content, for tests and early
// boot population (an initramfs-equivalent).
func (fs *Fs_t) Create(path string, content []uint8) {
	fs.Lock()
	defer fs.Unlock()
	fs.ents[path] = &Dentry_t{Name: path, Inode: &Inode_t{data: content}}
}

// Open returns a File_t for path, or -ENOENT.
func (fs *Fs_t) Open(path string) (*File_t, defs.Err_t) {
	fs.Lock()
	d, ok := fs.ents[path]
	fs.Unlock()
	if !ok {
		return nil, -defs.ENOENT
	}
	d.Inode.Get()
	return &File_t{dentry: d}, 0
}

// File_t is an open file descriptor's kernel-side state: the dentry it
// was opened against, and an independent read cursor. It implements
// fdops.Fdops_i, the capability the vm package's file-backed mappings
// are built on.
type File_t struct {
	dentry *Dentry_t
	off    int
}

var _ fdops.Fdops_i = (*File_t)(nil)

func (f *File_t) Read(dst []uint8, off int) (int, defs.Err_t) {
	ino := f.dentry.Inode
	ino.Lock()
	defer ino.Unlock()
	if off >= len(ino.data) {
		return 0, 0
	}
	n := copy(dst, ino.data[off:])
	return n, 0
}

// Mmap returns a Mapfile_i bound to this file's inode. Every mapping
// this minimal filesystem hands out is MAP_PRIVATE-eligible; it never
// reports shared=true since there is no backing store for MAP_SHARED
// writeback to land in.
func (f *File_t) Mmap(fileoff int) (fdops.Mapfile_i, bool, defs.Err_t) {
	f.dentry.Inode.Get()
	return &mapping_t{ino: f.dentry.Inode}, false, 0
}

func (f *File_t) Reopen() defs.Err_t {
	f.dentry.Inode.Get()
	return 0
}

func (f *File_t) Close() defs.Err_t {
	f.dentry.Inode.Put()
	return 0
}

func (f *File_t) Size() int {
	ino := f.dentry.Inode
	ino.Lock()
	defer ino.Unlock()
	return len(ino.data)
}

type mapping_t struct {
	ino *Inode_t
}

// Nopage implements fdops.Mapfile_i for an in-memory inode: it
// allocates a fresh page and copies the file bytes at fileoff into it,
// the "produce a page whose first length bytes are file content"
// contract of spec §6.1.
func (m *mapping_t) Nopage(fileoff, length int) (mem.Pa_t, int, defs.Err_t) {
	m.ino.Lock()
	defer m.ino.Unlock()
	_, p_pg, ok := mem.Physmem.Refpg_new()
	if !ok {
		return 0, 0, -defs.ENOMEM
	}
	mem.Physmem.Refup(p_pg)
	pg := mem.Physmem.Dmap(p_pg)
	bpg := mem.Pg2bytes(pg)
	got := 0
	if fileoff < len(m.ino.data) {
		got = copy(bpg[:length], m.ino.data[fileoff:])
	}
	return p_pg, got, 0
}

func (m *mapping_t) Unpin() { m.ino.Put() }
