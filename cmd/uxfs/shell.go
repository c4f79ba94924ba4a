package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kavalcante/uxfs/blockdev"
	"github.com/kavalcante/uxfs/fs"
	"github.com/kavalcante/uxfs/inode"
)

const (
	defaultTotalBlocks = 1000
	defaultTotalInodes = 128
)

// shell is a line-oriented REPL over a uxfs image, tokenizing each line
// with double-quote grouping and dispatching to fs operations. Command
// failures print to stderr and do not terminate the session; only
// startup argument errors (handled in main) exit non-zero.
type shell struct {
	imagePath string
	fsys      *fs.FileSystem
	in        *bufio.Scanner
	out       io.Writer
	err       io.Writer
}

func newShell(imagePath string, stdin io.Reader, stdout, stderr io.Writer) *shell {
	return &shell{imagePath: imagePath, in: bufio.NewScanner(stdin), out: stdout, err: stderr}
}

func (s *shell) run() {
	for {
		fmt.Fprint(s.out, "uxfs> ")
		if !s.in.Scan() {
			break
		}
		args := tokenize(s.in.Text())
		if len(args) == 0 {
			continue
		}

		cmd, rest := args[0], args[1:]
		if cmd == "exit" {
			break
		}
		if err := s.dispatch(cmd, rest); err != nil {
			fmt.Fprintln(s.err, err.Error())
		}
	}

	if s.fsys != nil {
		if err := s.fsys.Unmount(); err != nil {
			fmt.Fprintf(s.err, "unmount: %s\n", err.Error())
		}
	}
}

func (s *shell) dispatch(cmd string, args []string) error {
	switch cmd {
	case "help":
		s.help()
		return nil
	case "format":
		return s.format(args)
	case "mount":
		return s.mount(args)
	case "unmount":
		return s.unmount()
	}

	if s.fsys == nil {
		return argErr(cmd, "", "no filesystem is mounted")
	}

	switch cmd {
	case "pwd":
		return s.pwd()
	case "cd":
		return s.unary(cmd, args, s.fsys.Cd)
	case "mkdir":
		return s.unary(cmd, args, func(path string) error { return s.fsys.Mkdir(path, 0o755) })
	case "rmdir":
		return s.unary(cmd, args, s.fsys.Rmdir)
	case "touch":
		return s.unary(cmd, args, func(path string) error { _, err := s.fsys.Create(path, 0o644); return err })
	case "rm":
		return s.unary(cmd, args, s.fsys.Unlink)
	case "ls":
		return s.ls(args)
	case "cat":
		return s.cat(args)
	case "write":
		return s.write(cmd, args, fs.WRONLY|fs.CREAT|fs.TRUNC)
	case "append":
		return s.write(cmd, args, fs.WRONLY|fs.CREAT|fs.APPEND)
	case "ln":
		return s.ln(args)
	case "stat":
		return s.stat(args)
	case "fsinfo":
		return s.fsinfo()
	default:
		return argErr(cmd, strings.Join(args, " "), "unknown command")
	}
}

// format <blocks> <inodes> creates a fresh image at the shell's
// configured path, sized per the given (or default) geometry. It does not
// mount the new image. An already-mounted filesystem is unmounted first.
func (s *shell) format(args []string) error {
	totalBlocks, totalInodes := uint32(defaultTotalBlocks), uint32(defaultTotalInodes)
	if len(args) >= 1 {
		n, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return argErr("format", args[0], "blocks must be an integer")
		}
		totalBlocks = uint32(n)
	}
	if len(args) >= 2 {
		n, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return argErr("format", args[1], "inodes must be an integer")
		}
		totalInodes = uint32(n)
	}

	if s.fsys != nil {
		if err := s.fsys.Unmount(); err != nil {
			return argErr("format", s.imagePath, err.Error())
		}
		s.fsys = nil
	}

	file, err := os.Create(s.imagePath)
	if err != nil {
		return argErr("format", s.imagePath, err.Error())
	}
	defer file.Close()

	dev, err := blockdev.Create(file, totalBlocks)
	if err != nil {
		return argErr("format", s.imagePath, err.Error())
	}
	if err := fs.Format(dev, totalBlocks, totalInodes); err != nil {
		return argErr("format", s.imagePath, err.Error())
	}
	return nil
}

// mount attaches and mounts the shell's configured image.
func (s *shell) mount(args []string) error {
	if s.fsys != nil {
		return argErr("mount", s.imagePath, "already mounted; run unmount first")
	}

	file, err := os.OpenFile(s.imagePath, os.O_RDWR, 0o644)
	if err != nil {
		return argErr("mount", s.imagePath, err.Error())
	}

	dev, err := blockdev.Attach(file)
	if err != nil {
		file.Close()
		return argErr("mount", s.imagePath, err.Error())
	}

	fsys, err := fs.Mount(dev)
	if err != nil {
		file.Close()
		return argErr("mount", s.imagePath, err.Error())
	}
	s.fsys = fsys
	return nil
}

func (s *shell) unmount() error {
	if s.fsys == nil {
		return argErr("unmount", s.imagePath, "no filesystem is mounted")
	}
	if err := s.fsys.Unmount(); err != nil {
		return argErr("unmount", s.imagePath, err.Error())
	}
	s.fsys = nil
	return nil
}

func (s *shell) unary(cmd string, args []string, op func(string) error) error {
	if len(args) != 1 {
		return argErr(cmd, strings.Join(args, " "), "expected exactly one path argument")
	}
	if err := op(args[0]); err != nil {
		return argErr(cmd, args[0], err.Error())
	}
	return nil
}

func (s *shell) pwd() error {
	path, err := s.fsys.Pwd()
	if err != nil {
		return argErr("pwd", "", err.Error())
	}
	fmt.Fprintln(s.out, path)
	return nil
}

func (s *shell) ls(args []string) error {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}
	entries, err := s.fsys.List(path)
	if err != nil {
		return argErr("ls", path, err.Error())
	}
	for _, e := range entries {
		fmt.Fprintln(s.out, e.NameString())
	}
	return nil
}

func (s *shell) cat(args []string) error {
	if len(args) != 1 {
		return argErr("cat", strings.Join(args, " "), "expected exactly one path argument")
	}
	handle, err := s.fsys.Open(args[0], fs.RDONLY, 0)
	if err != nil {
		return argErr("cat", args[0], err.Error())
	}
	defer handle.Close()

	buf := make([]byte, 4096)
	for {
		n, err := handle.Read(buf)
		if n > 0 {
			s.out.Write(buf[:n])
		}
		if err != nil || n == 0 {
			break
		}
	}
	fmt.Fprintln(s.out)
	return nil
}

func (s *shell) write(cmd string, args []string, flags fs.OpenFlags) error {
	if len(args) != 2 {
		return argErr(cmd, strings.Join(args, " "), "expected a path and a payload")
	}
	path, payload := args[0], args[1]

	handle, err := s.fsys.Open(path, flags, 0o644)
	if err != nil {
		return argErr(cmd, path, err.Error())
	}
	defer handle.Close()

	if _, err := handle.Write([]byte(payload)); err != nil {
		return argErr(cmd, path, err.Error())
	}
	return nil
}

func (s *shell) ln(args []string) error {
	if len(args) != 2 {
		return argErr("ln", strings.Join(args, " "), "expected an existing path and a new path")
	}
	if err := s.fsys.Link(args[0], args[1]); err != nil {
		return argErr("ln", args[1], err.Error())
	}
	return nil
}

func (s *shell) stat(args []string) error {
	if len(args) != 1 {
		return argErr("stat", strings.Join(args, " "), "expected exactly one path argument")
	}
	num, raw, err := s.fsys.Stat(args[0])
	if err != nil {
		return argErr("stat", args[0], err.Error())
	}

	typeName := "file"
	if raw.Type == uint32(inode.TypeDirectory) {
		typeName = "directory"
	}
	fmt.Fprintf(s.out, "inode=%d type=%s size=%d links=%d blocks=%d\n",
		num, typeName, raw.Size, raw.LinksCount, raw.BlocksUsed)
	return nil
}

func (s *shell) fsinfo() error {
	stats := s.fsys.Stats()
	fmt.Fprintf(s.out, "magic=0x%x total_blocks=%d free_blocks=%d total_inodes=%d free_inodes=%d mount_count=%d\n",
		stats.Magic, stats.TotalBlocks, stats.FreeBlocks, stats.TotalInodes, stats.FreeInodes, stats.MountCount)
	return nil
}

func (s *shell) help() {
	fmt.Fprintln(s.out, "commands: format mount unmount pwd cd ls touch write append rm cat mkdir rmdir ln stat fsinfo help exit")
}

func argErr(cmd, path, message string) error {
	return fmt.Errorf("%s: cannot operate on '%s': %s", cmd, path, message)
}

// tokenize splits a line on whitespace, treating a double-quoted run as
// a single token (quotes themselves are stripped, no escape handling).
func tokenize(line string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false
	hasToken := false

	flush := func() {
		if hasToken {
			tokens = append(tokens, current.String())
			current.Reset()
			hasToken = false
		}
	}

	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			hasToken = true
		case r == ' ' || r == '\t':
			if inQuotes {
				current.WriteRune(r)
			} else {
				flush()
			}
		default:
			current.WriteRune(r)
			hasToken = true
		}
	}
	flush()
	return tokens
}
