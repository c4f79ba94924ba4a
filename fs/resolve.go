package fs

import (
	"github.com/kavalcante/uxfs/inode"
	"github.com/kavalcante/uxfs/upath"
	"github.com/kavalcante/uxfs/uxerrors"
)

// resolve walks path one component at a time from root (absolute paths)
// or the current directory (relative paths), following "." by skipping
// it and ".." by looking up the literal ".." dentry of the current
// directory. Fails with uxerrors.ErrNotFound at the first missing
// component, or uxerrors.ErrInvalid on a malformed path.
func (f *FileSystem) resolve(path string) (uint32, error) {
	if !upath.IsValid(path) {
		return 0, uxerrors.ErrInvalid.WithMessage("malformed path: " + path)
	}

	normalized, err := upath.Normalize(path)
	if err != nil {
		return 0, err
	}
	if normalized == "/" {
		return inode.RootInode, nil
	}

	parsed, err := upath.Parse(normalized)
	if err != nil {
		return 0, err
	}

	cur := f.cwd
	if parsed.IsAbsolute {
		cur = inode.RootInode
	}

	for _, component := range parsed.Components {
		if component == upath.Current {
			continue
		}
		entry, _, err := f.dirs.Find(cur, component)
		if err != nil {
			return 0, uxerrors.ErrNotFound.WithMessage("no such file or directory: " + path)
		}
		cur = entry.InodeNum
	}

	return cur, nil
}

// resolveParentAndName splits path into its parent directory's inode
// number and final component, validating the component along the way.
func (f *FileSystem) resolveParentAndName(path string) (parentInode uint32, name string, err error) {
	parentPath, name, err := upath.Split(path)
	if err != nil {
		return 0, "", err
	}
	if !upath.FilenameIsValid(name) {
		return 0, "", uxerrors.ErrInvalid.WithMessage("invalid filename: " + name)
	}

	parentInode, err = f.resolve(parentPath)
	if err != nil {
		return 0, "", err
	}
	return parentInode, name, nil
}

func (f *FileSystem) requireDirectory(inodeNum uint32) (inode.RawInode, error) {
	var raw inode.RawInode
	if err := f.inodes.Read(inodeNum, &raw); err != nil {
		return inode.RawInode{}, err
	}
	if !raw.IsDir() {
		return inode.RawInode{}, uxerrors.ErrInvalid.WithMessage("not a directory")
	}
	return raw, nil
}
