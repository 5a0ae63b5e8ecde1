package subcmd

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/mengelbart/encstage/cmdmain"
	"github.com/mengelbart/encstage/codec/vpx"
)

func init() {
	cmdmain.RegisterSubCmd("version", func() cmdmain.SubCmd { return newVersion() })
}

type Version struct {
	Path      string   `json:"path"`
	Version   string   `json:"version"`
	GitCommit string   `json:"git_commit"`
	GitDate   string   `json:"git_date"`
	GoVersion string   `json:"go_version"`
	Libvpx    string   `json:"libvpx"`
	Codecs    []string `json:"codecs"`
}

func newVersion() *Version {
	v := &Version{
		GoVersion: runtime.Version(),
		Libvpx:    vpx.Version(),
	}
	for _, c := range vpx.Codecs() {
		v.Codecs = append(v.Codecs, c.String())
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	v.Path = info.Main.Path
	v.Version = info.Main.Version
	modified := false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			v.GitCommit = setting.Value
		case "vcs.time":
			v.GitDate = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if modified {
		v.GitCommit += "+dirty"
	}
	return v
}

// Exec implements cmdmain.SubCmd.
func (v *Version) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("version", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print version information as JSON")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Print version information

Usage:
	%s version [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)
	return v.write(os.Stdout, *asJSON)
}

func (v *Version) write(w io.Writer, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintf(w, `%s
	Version:	%s
	Git commit:	%s
	Built:		%s
	Go Version:	%s
	libvpx:		%s
	Codecs:		%v
`, v.Path, v.Version, v.GitCommit, v.GitDate, v.GoVersion, v.Libvpx, v.Codecs)
	return err
}

// Help implements cmdmain.SubCmd.
func (v *Version) Help() string {
	return "version prints out version and codec information"
}
