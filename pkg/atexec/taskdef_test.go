package atexec

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"
	"testing"
)

func TestArguments(t *testing.T) {
	tests := []struct {
		name string
		opts TaskOptions
		want string
	}{
		{"none", TaskOptions{Mode: ModeNone, TempFile: "x.tmp"}, `/C ipconfig /all`},
		{"share-back", TaskOptions{Mode: ModeShareBack, TempFile: "AbCdEfGh.tmp"}, `/C ipconfig /all > %windir%\Temp\AbCdEfGh.tmp 2>&1`},
		{"fileless", TaskOptions{Mode: ModeFileless, TempFile: "AbCdEfGh.tmp", CallerIP: "192.168.56.1", Share: "share"}, `/C ipconfig /all > \\192.168.56.1\share\AbCdEfGh.tmp 2>&1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Arguments("ipconfig /all", tt.opts); got != tt.want {
				t.Errorf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestBuildTaskXML(t *testing.T) {
	opts := TaskOptions{Mode: ModeShareBack, TempFile: "a.tmp"}
	doc := BuildTaskXML("net user", opts)

	want := `<Arguments>/C net user &gt; %windir%\Temp\a.tmp 2&gt;&amp;1</Arguments>`
	if !strings.Contains(doc, want) {
		t.Fatalf("missing %s", want)
	}
	for _, s := range []string{
		"<Command>cmd.exe</Command>",
		"<UserId>S-1-5-18</UserId>",
		"<RunLevel>HighestAvailable</RunLevel>",
		"<Hidden>true</Hidden>",
	} {
		if !strings.Contains(doc, s) {
			t.Errorf("missing %s", s)
		}
	}

	// the document is well formed and the arguments decode back
	var task struct {
		Arguments string `xml:"Actions>Exec>Arguments"`
	}
	dec := xml.NewDecoder(strings.NewReader(doc))
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }
	if err := dec.Decode(&task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.Arguments != Arguments("net user", opts) {
		t.Errorf("arguments = %q", task.Arguments)
	}
}

func TestBuildTaskXMLLeavesCommandAlone(t *testing.T) {
	doc := BuildTaskXML(`echo a &amp; b`, TaskOptions{Mode: ModeNone})
	if !strings.Contains(doc, "<Arguments>/C echo a &amp; b</Arguments>") {
		t.Errorf("command was rewritten:\n%s", doc)
	}
}

func TestNewTaskName(t *testing.T) {
	// 255 is rejected, the rest map onto the alphabet in order
	src := []byte{255, 0, 1, 2, 3, 4, 5, 6, 51, 26, 0, 0, 0, 0, 0, 0}
	name, err := newTaskName(bytes.NewReader(src), 8)
	if err != nil {
		t.Fatal(err)
	}
	if name != "abcdefgZ" {
		t.Errorf("name = %q", name)
	}

	if _, err := newTaskName(bytes.NewReader([]byte{1, 2}), 8); err == nil {
		t.Error("short source accepted")
	}

	a, err := newTaskName(nil, 12)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := newTaskName(nil, 12)
	if len(a) != 12 || a == b {
		t.Errorf("names %q and %q", a, b)
	}
	for _, c := range a {
		if !strings.ContainsRune(nameAlphabet, c) {
			t.Errorf("unexpected %q in %q", c, a)
		}
	}
}
