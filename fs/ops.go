package fs

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/kavalcante/uxfs/dentry"
	"github.com/kavalcante/uxfs/inode"
	"github.com/kavalcante/uxfs/upath"
	"github.com/kavalcante/uxfs/uxerrors"
)

// rollbackStack accumulates undo actions as a multi-step operation
// progresses, so a mid-operation failure can unwind everything already
// committed and report every rollback failure alongside the original
// cause instead of masking it.
type rollbackStack struct {
	actions []func() error
}

func (r *rollbackStack) push(action func() error) {
	r.actions = append(r.actions, action)
}

func (r *rollbackStack) unwind(cause error) error {
	merr := multierror.Append(nil, cause)
	for i := len(r.actions) - 1; i >= 0; i-- {
		if err := r.actions[i](); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// Create allocates a new file inode named by path's final component
// inside its (already existing) parent directory.
func (f *FileSystem) Create(path string, perms uint32) (uint32, error) {
	if err := f.requireMounted(); err != nil {
		return 0, err
	}

	parentInode, name, err := f.resolveParentAndName(path)
	if err != nil {
		return 0, err
	}
	if _, err := f.requireDirectory(parentInode); err != nil {
		return 0, err
	}
	if _, _, err := f.dirs.Find(parentInode, name); err == nil {
		return 0, uxerrors.ErrExists.WithMessage("already exists: " + path)
	}

	var rollback rollbackStack

	fileInode, _, err := f.inodes.Alloc(inode.TypeFile, perms)
	if err != nil {
		return 0, err
	}
	f.sb.FreeInodes--
	rollback.push(func() error {
		_, err := f.inodes.Free(fileInode, f.freeBlock)
		f.sb.FreeInodes++
		return err
	})

	entry, err := dentry.Create(name, fileInode, inode.TypeFile)
	if err != nil {
		return 0, rollback.unwind(err)
	}
	if err := f.dirs.Add(parentInode, entry); err != nil {
		return 0, rollback.unwind(err)
	}

	return fileInode, nil
}

// Mkdir creates a new, empty directory at path, wiring up its "."/".."
// entries and the parent's incremented link count. Failure at any stage
// unwinds every prior stage via rollbackStack.
func (f *FileSystem) Mkdir(path string, perms uint32) error {
	if err := f.requireMounted(); err != nil {
		return err
	}

	parentInode, name, err := f.resolveParentAndName(path)
	if err != nil {
		return err
	}
	var parentRaw inode.RawInode
	if parentRaw, err = f.requireDirectory(parentInode); err != nil {
		return err
	}
	if _, _, err := f.dirs.Find(parentInode, name); err == nil {
		return uxerrors.ErrExists.WithMessage("already exists: " + path)
	}

	var rollback rollbackStack

	dirNum, dirInode, err := f.inodes.Alloc(inode.TypeDirectory, perms)
	if err != nil {
		return err
	}
	f.sb.FreeInodes--
	rollback.push(func() error {
		_, err := f.inodes.Free(dirNum, f.freeBlock)
		f.sb.FreeInodes++
		return err
	})

	entry, err := dentry.Create(name, dirNum, inode.TypeDirectory)
	if err != nil {
		return rollback.unwind(err)
	}
	if err := f.dirs.Add(parentInode, entry); err != nil {
		return rollback.unwind(err)
	}
	rollback.push(func() error {
		return f.dirs.Remove(parentInode, name)
	})

	dot, err := dentry.Create(".", dirNum, inode.TypeDirectory)
	if err != nil {
		return rollback.unwind(err)
	}
	if err := f.dirs.Add(dirNum, dot); err != nil {
		return rollback.unwind(err)
	}

	dotdot, err := dentry.Create("..", parentInode, inode.TypeDirectory)
	if err != nil {
		return rollback.unwind(err)
	}
	if err := f.dirs.Add(dirNum, dotdot); err != nil {
		return rollback.unwind(err)
	}

	// Re-read both inodes: dirs.Add may have linked new blocks into them.
	if err := f.inodes.Read(dirNum, &dirInode); err != nil {
		return rollback.unwind(err)
	}
	dirInode.LinksCount = 2
	if err := f.inodes.Write(dirNum, &dirInode); err != nil {
		return rollback.unwind(err)
	}

	if err := f.inodes.Read(parentInode, &parentRaw); err != nil {
		return rollback.unwind(err)
	}
	parentRaw.LinksCount++
	rollback.push(func() error {
		parentRaw.LinksCount--
		return f.inodes.Write(parentInode, &parentRaw)
	})
	if err := f.inodes.Write(parentInode, &parentRaw); err != nil {
		return rollback.unwind(err)
	}

	return nil
}

// Unlink removes a non-directory dentry, freeing its inode and data
// blocks once its link count reaches zero.
func (f *FileSystem) Unlink(path string) error {
	if err := f.requireMounted(); err != nil {
		return err
	}

	targetInode, err := f.resolve(path)
	if err != nil {
		return err
	}

	var raw inode.RawInode
	if err := f.inodes.Read(targetInode, &raw); err != nil {
		return err
	}
	if raw.IsDir() {
		return uxerrors.ErrInvalid.WithMessage("cannot unlink a directory: " + path)
	}

	raw.LinksCount--
	if raw.LinksCount == 0 {
		if _, err := f.inodes.Free(targetInode, f.freeBlock); err != nil {
			return err
		}
		f.sb.FreeInodes++
	} else if err := f.inodes.Write(targetInode, &raw); err != nil {
		return err
	}

	parentInode, name, err := f.resolveParentAndName(path)
	if err != nil {
		return err
	}
	return f.dirs.Remove(parentInode, name)
}

// Rmdir removes an empty directory (containing only "." and "..").
// Root can never be removed.
func (f *FileSystem) Rmdir(path string) error {
	if err := f.requireMounted(); err != nil {
		return err
	}

	normalized, err := upath.Normalize(path)
	if err != nil {
		return err
	}
	if normalized == "/" {
		return uxerrors.ErrInvalid.WithMessage("cannot remove the root directory")
	}

	targetInode, err := f.resolve(path)
	if err != nil {
		return err
	}
	if _, err := f.requireDirectory(targetInode); err != nil {
		return err
	}

	entries, err := f.dirs.List(targetInode)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if name := e.NameString(); name != "." && name != ".." {
			return uxerrors.ErrGeneric.WithMessage("directory not empty: " + path)
		}
	}

	if _, err := f.inodes.Free(targetInode, f.freeBlock); err != nil {
		return err
	}
	f.sb.FreeInodes++

	parentInode, name, err := f.resolveParentAndName(path)
	if err != nil {
		return err
	}
	if err := f.dirs.Remove(parentInode, name); err != nil {
		return err
	}

	var parentRaw inode.RawInode
	if err := f.inodes.Read(parentInode, &parentRaw); err != nil {
		return err
	}
	parentRaw.LinksCount--
	return f.inodes.Write(parentInode, &parentRaw)
}

// Link creates a new dentry newPath referencing the same inode as
// existingPath, incrementing its link count. Directories cannot be hard
// linked.
func (f *FileSystem) Link(existingPath, newPath string) error {
	if err := f.requireMounted(); err != nil {
		return err
	}

	existingInode, err := f.resolve(existingPath)
	if err != nil {
		return err
	}

	var raw inode.RawInode
	if err := f.inodes.Read(existingInode, &raw); err != nil {
		return err
	}
	if raw.IsDir() {
		return uxerrors.ErrInvalid.WithMessage("cannot hard-link a directory: " + existingPath)
	}

	parentInode, name, err := f.resolveParentAndName(newPath)
	if err != nil {
		return err
	}
	if _, err := f.requireDirectory(parentInode); err != nil {
		return err
	}
	if _, _, err := f.dirs.Find(parentInode, name); err == nil {
		return uxerrors.ErrExists.WithMessage("already exists: " + newPath)
	}

	var rollback rollbackStack

	entry, err := dentry.Create(name, existingInode, inode.TypeFile)
	if err != nil {
		return rollback.unwind(err)
	}
	if err := f.dirs.Add(parentInode, entry); err != nil {
		return rollback.unwind(err)
	}
	rollback.push(func() error {
		return f.dirs.Remove(parentInode, name)
	})

	raw.LinksCount++
	if err := f.inodes.Write(existingInode, &raw); err != nil {
		return rollback.unwind(err)
	}
	return nil
}

// Open resolves path to an inode (creating it via Create when CREAT is
// given and the path is missing), and builds an OpenFile cursor. On
// TRUNC, the file's existing data blocks are released and its size reset
// to zero before the handle is returned.
func (f *FileSystem) Open(path string, flags OpenFlags, perms uint32) (*OpenFile, error) {
	if err := f.requireMounted(); err != nil {
		return nil, err
	}

	targetInode, err := f.resolve(path)
	if err != nil {
		if flags&CREAT == 0 {
			return nil, err
		}
		targetInode, err = f.Create(path, perms)
		if err != nil {
			return nil, err
		}
	}

	var raw inode.RawInode
	if err := f.inodes.Read(targetInode, &raw); err != nil {
		return nil, err
	}
	if !raw.IsFile() {
		return nil, uxerrors.ErrInvalid.WithMessage("not a regular file: " + path)
	}

	if flags&TRUNC != 0 {
		if err := f.truncateInodeData(&raw); err != nil {
			return nil, err
		}
		raw.ModifiedAt = uint32(time.Now().Unix())
		if err := f.inodes.Write(targetInode, &raw); err != nil {
			return nil, err
		}
	}

	offset := uint32(0)
	if flags&APPEND != 0 {
		offset = raw.Size
	}

	return &OpenFile{fs: f, inodeNum: targetInode, inode: raw, offset: offset, flags: flags}, nil
}

// List resolves path, requires it to be a directory, and returns its
// entries.
func (f *FileSystem) List(path string) ([]dentry.RawDentry, error) {
	if err := f.requireMounted(); err != nil {
		return nil, err
	}

	targetInode, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	if _, err := f.requireDirectory(targetInode); err != nil {
		return nil, err
	}
	return f.dirs.List(targetInode)
}

// Stat resolves path and returns its inode number plus a snapshot of its
// inode record.
func (f *FileSystem) Stat(path string) (uint32, inode.RawInode, error) {
	if err := f.requireMounted(); err != nil {
		return 0, inode.RawInode{}, err
	}

	targetInode, err := f.resolve(path)
	if err != nil {
		return 0, inode.RawInode{}, err
	}

	var raw inode.RawInode
	if err := f.inodes.Read(targetInode, &raw); err != nil {
		return 0, inode.RawInode{}, err
	}
	return targetInode, raw, nil
}

// Pwd returns the absolute path of the current working directory.
func (f *FileSystem) Pwd() (string, error) {
	if err := f.requireMounted(); err != nil {
		return "", err
	}
	return f.InodeToPath(f.cwd)
}

// Cd resolves path, requires it to be a directory, and updates the
// current working directory.
func (f *FileSystem) Cd(path string) error {
	if err := f.requireMounted(); err != nil {
		return err
	}

	targetInode, err := f.resolve(path)
	if err != nil {
		return err
	}
	if _, err := f.requireDirectory(targetInode); err != nil {
		return err
	}
	f.cwd = targetInode
	return nil
}

// InodeToPath walks upward from targetInode following ".." entries,
// at each level searching the parent's dentries for the one referencing
// the child (skipping "." and ".."), and joins the accumulated names
// with "/". Depth beyond 64 levels fails with uxerrors.ErrNoSpace.
func (f *FileSystem) InodeToPath(targetInode uint32) (string, error) {
	if err := f.requireMounted(); err != nil {
		return "", err
	}
	if targetInode == inode.RootInode {
		return "/", nil
	}

	const maxDepth = 64
	var names []string
	cur := targetInode

	for depth := 0; depth < maxDepth; depth++ {
		parentEntry, _, err := f.dirs.Find(cur, "..")
		if err != nil {
			return "", err
		}
		parentInode := parentEntry.InodeNum

		entries, err := f.dirs.List(parentInode)
		if err != nil {
			return "", err
		}

		found := false
		for _, e := range entries {
			name := e.NameString()
			if name == "." || name == ".." {
				continue
			}
			if e.InodeNum == cur {
				names = append(names, name)
				found = true
				break
			}
		}
		if !found {
			return "", uxerrors.ErrNotFound.WithMessage("inode not reachable from its recorded parent")
		}

		if parentInode == inode.RootInode {
			return joinReversed(names), nil
		}
		cur = parentInode
	}

	return "", uxerrors.ErrNoSpace.WithMessage("path depth exceeds 64 levels")
}

func joinReversed(names []string) string {
	out := "/"
	for i := len(names) - 1; i >= 0; i-- {
		out += names[i]
		if i > 0 {
			out += "/"
		}
	}
	return out
}
