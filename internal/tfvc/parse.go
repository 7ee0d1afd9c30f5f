package tfvc

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"
)

// FolderType distinguishes mappings from cloaks in a workspace listing.
type FolderType string

const (
	FolderMap   FolderType = "map"
	FolderCloak FolderType = "cloak"
)

// WorkingFolder is one entry of a workspace's mapping set.
type WorkingFolder struct {
	Item  string
	Local string
	Type  FolderType
}

// Materialized reports whether the folder is mapped to a local path and
// therefore needs an unmap to be released.
func (f WorkingFolder) Materialized() bool {
	return f.Local != ""
}

// Workspace is one workspace of a listing.
type Workspace struct {
	Name    string
	Folders []WorkingFolder
}

// WorkspaceListing is a read-only snapshot of the server's workspaces for a
// collection. It is stale as soon as any mutating command runs.
type WorkspaceListing struct {
	Workspaces []Workspace
}

// Has reports whether a workspace called name is present.
func (l *WorkspaceListing) Has(name string) bool {
	_, ok := l.find(name)
	return ok
}

// Names returns the set of workspace names.
func (l *WorkspaceListing) Names() map[string]struct{} {
	out := make(map[string]struct{}, len(l.Workspaces))
	for _, ws := range l.Workspaces {
		out[ws.Name] = struct{}{}
	}
	return out
}

// WorkingFolders returns the folders of workspace name in listing order.
func (l *WorkspaceListing) WorkingFolders(name string) ([]WorkingFolder, bool) {
	ws, ok := l.find(name)
	if !ok {
		return nil, false
	}
	return ws.Folders, true
}

func (l *WorkspaceListing) find(name string) (Workspace, bool) {
	for _, ws := range l.Workspaces {
		if ws.Name == name {
			return ws, true
		}
	}
	return Workspace{}, false
}

// xmlNode is a generic element tree; the listing schema varies between tool
// versions so elements are matched by local name at any depth.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []xmlNode  `xml:",any"`
}

func (n *xmlNode) attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// walk visits n and its descendants in document order.
func (n *xmlNode) walk(fn func(*xmlNode) bool) {
	if !fn(n) {
		return
	}
	for i := range n.Nodes {
		n.Nodes[i].walk(fn)
	}
}

// ParseWorkspaceListing parses `tf vc workspaces /format:xml` output. Any
// malformed input yields an error wrapping ErrCorruptedListing, never an
// empty listing.
func ParseWorkspaceListing(data []byte) (*WorkspaceListing, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel

	var root xmlNode
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedListing, err)
	}
	if err := expectEOF(dec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedListing, err)
	}

	listing := &WorkspaceListing{}
	root.walk(func(n *xmlNode) bool {
		if n.XMLName.Local != "Workspace" {
			return true
		}
		name, _ := n.attr("name")
		ws := Workspace{Name: name}
		for i := range n.Nodes {
			n.Nodes[i].walk(func(c *xmlNode) bool {
				if c.XMLName.Local == "WorkingFolder" {
					ws.Folders = append(ws.Folders, workingFolderFrom(c))
				}
				return true
			})
		}
		listing.Workspaces = append(listing.Workspaces, ws)
		return false
	})
	return listing, nil
}

func workingFolderFrom(n *xmlNode) WorkingFolder {
	item, _ := n.attr("item")
	local, _ := n.attr("local")
	typ, _ := n.attr("type")

	f := WorkingFolder{Item: item, Local: local, Type: FolderMap}
	if strings.EqualFold(typ, string(FolderCloak)) {
		f.Type = FolderCloak
	}
	return f
}

// expectEOF rejects anything but whitespace, comments and processing
// instructions after the root element.
func expectEOF(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return fmt.Errorf("unexpected element <%s> after document root", t.Name.Local)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return fmt.Errorf("unexpected text after document root")
			}
		}
	}
}

var serverPathLine = regexp.MustCompile(`^Server path:\s*(.*)$`)

// ParseServerPath extracts the value of the last "Server path:" line from
// `tf vc info` output. ok is false when no line carries a value, meaning the
// directory has no recognizable version-control metadata.
func ParseServerPath(output string) (path string, ok bool) {
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		m := serverPathLine.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m != nil {
			path = strings.TrimSpace(m[1])
		}
	}
	return path, path != ""
}
