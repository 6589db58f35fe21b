package gitx

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TreeEntry is one row of `git ls-tree` output.
type TreeEntry struct {
	Mode string
	Type string
	SHA  string
	Path string
}

// Signature is a parsed author or committer line.
type Signature struct {
	Name  string
	Email string
	Date  time.Time
}

// Commit is a parsed `git cat-file -p <commit>` object.
type Commit struct {
	Tree      string
	Parents   []string
	Author    Signature
	Committer Signature
	Message   string
}

// ParseTree parses `ls-tree` output. Lines look like
// "100644 blob a1b2c3...\tpath/to/file"; malformed lines are skipped.
func ParseTree(content string) []TreeEntry {
	var entries []TreeEntry
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		if line == "" {
			continue
		}
		meta, path, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		fields := strings.Fields(meta)
		if len(fields) < 3 {
			continue
		}
		entries = append(entries, TreeEntry{
			Mode: fields[0],
			Type: fields[1],
			SHA:  fields[2],
			Path: path,
		})
	}
	return entries
}

// ParseCommit parses a pretty-printed commit object.
func ParseCommit(content string) (*Commit, error) {
	header, message, _ := strings.Cut(content, "\n\n")

	commit := &Commit{Message: strings.TrimRight(message, "\n")}
	for _, line := range strings.Split(header, "\n") {
		switch {
		case strings.HasPrefix(line, "tree "):
			commit.Tree = strings.TrimPrefix(line, "tree ")
		case strings.HasPrefix(line, "parent "):
			commit.Parents = append(commit.Parents, strings.TrimPrefix(line, "parent "))
		case strings.HasPrefix(line, "author "):
			commit.Author = ParseSignature(strings.TrimPrefix(line, "author "))
		case strings.HasPrefix(line, "committer "):
			commit.Committer = ParseSignature(strings.TrimPrefix(line, "committer "))
		}
	}
	if commit.Tree == "" {
		return nil, errors.New("commit object has no tree line")
	}
	return commit, nil
}

var signatureRe = regexp.MustCompile(`^(.+) <(.*)> (\d+) ([+-]\d{4})$`)

// ParseSignature parses "Name <email> timestamp zone". Unparseable input
// yields an empty name with the current time so uploads still carry a
// well-formed date.
func ParseSignature(line string) Signature {
	m := signatureRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Signature{Date: time.Now().UTC()}
	}
	unix, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return Signature{Name: m[1], Email: m[2], Date: time.Now().UTC()}
	}
	return Signature{
		Name:  m[1],
		Email: m[2],
		Date:  time.Unix(unix, 0).In(zoneFromOffset(m[4])),
	}
}

// zoneFromOffset converts a "+0130" style git timezone into a fixed zone.
func zoneFromOffset(offset string) *time.Location {
	hours, err := strconv.Atoi(offset[1:3])
	if err != nil {
		return time.UTC
	}
	minutes, err := strconv.Atoi(offset[3:5])
	if err != nil {
		return time.UTC
	}
	seconds := hours*3600 + minutes*60
	if offset[0] == '-' {
		seconds = -seconds
	}
	return time.FixedZone(offset, seconds)
}
