// Package initdata reads and writes the init_data.xml file a worker reads at startup.
package initdata

import (
	"bytes"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"voltask/pkg/errors"
)

// FileName is the init data file inside a slot directory.
const FileName = "init_data.xml"

// HostInfo is the host snapshot handed to the worker.
type HostInfo struct {
	DomainName string  `xml:"domain_name,omitempty" yaml:"domainName"`
	OSName     string  `xml:"os_name,omitempty" yaml:"osName"`
	OSVersion  string  `xml:"os_version,omitempty" yaml:"osVersion"`
	PVendor    string  `xml:"p_vendor,omitempty" yaml:"pVendor"`
	PModel     string  `xml:"p_model,omitempty" yaml:"pModel"`
	NCPUs      int     `xml:"p_ncpus" yaml:"nCPUs"`
	PFpops     float64 `xml:"p_fpops" yaml:"pFpops"`
	PIops      float64 `xml:"p_iops" yaml:"pIops"`
	MNBytes    float64 `xml:"m_nbytes" yaml:"mNBytes"`
	MSwap      float64 `xml:"m_swap" yaml:"mSwap"`
	DTotal     float64 `xml:"d_total" yaml:"dTotal"`
	DFree      float64 `xml:"d_free" yaml:"dFree"`
}

// AppInitData is the record serialized to init_data.xml.
type AppInitData struct {
	XMLName xml.Name `xml:"app_init_data"`

	MajorVersion   int    `xml:"core_version_major"`
	MinorVersion   int    `xml:"core_version_minor"`
	ReleaseVersion int    `xml:"core_version_release"`
	AppVersion     int    `xml:"app_version"`
	AppName        string `xml:"app_name"`
	PlanClass      string `xml:"plan_class,omitempty"`

	ProjectURL         string `xml:"project_url,omitempty"`
	ProjectDir         string `xml:"project_dir"`
	ClientDir          string `xml:"client_dir"`
	ProjectPreferences string `xml:"project_preferences,omitempty"`
	Authenticator      string `xml:"authenticator,omitempty"`

	UserName         string  `xml:"user_name,omitempty"`
	TeamName         string  `xml:"team_name,omitempty"`
	UserID           int     `xml:"userid"`
	TeamID           int     `xml:"teamid"`
	HostID           int     `xml:"hostid"`
	UserTotalCredit  float64 `xml:"user_total_credit"`
	UserExpavgCredit float64 `xml:"user_expavg_credit"`
	HostTotalCredit  float64 `xml:"host_total_credit"`
	HostExpavgCredit float64 `xml:"host_expavg_credit"`

	WUName     string `xml:"wu_name"`
	ResultName string `xml:"result_name"`
	Slot       int    `xml:"slot"`

	RscFpopsEst         float64 `xml:"rsc_fpops_est"`
	RscFpopsBound       float64 `xml:"rsc_fpops_bound"`
	RscMemoryBound      float64 `xml:"rsc_memory_bound"`
	RscDiskBound        float64 `xml:"rsc_disk_bound"`
	ComputationDeadline float64 `xml:"computation_deadline"`
	CheckpointPeriod    float64 `xml:"checkpoint_period"`

	FractionDoneStart   float64 `xml:"fraction_done_start"`
	FractionDoneEnd     float64 `xml:"fraction_done_end"`
	WUCPUTime           float64 `xml:"wu_cpu_time"`
	StartingElapsedTime float64 `xml:"starting_elapsed_time"`

	ShmKey string `xml:"shm_key"`

	Host HostInfo `xml:"host_info"`
}

// Encode writes d as XML to w. Strings that XML cannot carry unchanged
// (invalid UTF-8, control characters other than tab, CR and LF) are
// rejected instead of being silently replaced.
func Encode(w io.Writer, d *AppInitData) error {
	if err := checkText(d); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "    ")
	if err := enc.Encode(d); err != nil {
		return errors.Wrap(err, errors.InitDataWriteFailed)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return errors.Wrap(err, errors.InitDataWriteFailed)
	}
	return nil
}

func checkText(d *AppInitData) error {
	fields := []struct {
		name, value string
	}{
		{"app_name", d.AppName},
		{"plan_class", d.PlanClass},
		{"project_url", d.ProjectURL},
		{"project_dir", d.ProjectDir},
		{"client_dir", d.ClientDir},
		{"project_preferences", d.ProjectPreferences},
		{"authenticator", d.Authenticator},
		{"user_name", d.UserName},
		{"team_name", d.TeamName},
		{"wu_name", d.WUName},
		{"result_name", d.ResultName},
		{"shm_key", d.ShmKey},
		{"domain_name", d.Host.DomainName},
		{"os_name", d.Host.OSName},
		{"os_version", d.Host.OSVersion},
		{"p_vendor", d.Host.PVendor},
		{"p_model", d.Host.PModel},
	}
	for _, f := range fields {
		if !xmlSafe(f.value) {
			return errors.Newf(errors.InitDataWriteFailed, "%s holds bytes that cannot be stored in init data", f.name).
				WithDetail("field", f.name)
		}
	}
	return nil
}

// xmlSafe reports whether s is valid UTF-8 made only of XML 1.0 characters.
func xmlSafe(s string) bool {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			return false
		}
		switch {
		case r == '\t' || r == '\n' || r == '\r':
		case r >= 0x20 && r <= 0xD7FF:
		case r >= 0xE000 && r <= 0xFFFD:
		case r >= 0x10000 && r <= utf8.MaxRune:
		default:
			return false
		}
		i += size
	}
	return true
}

// Decode reads one record from r.
func Decode(r io.Reader) (*AppInitData, error) {
	var d AppInitData
	if err := xml.NewDecoder(r).Decode(&d); err != nil {
		return nil, errors.Wrap(err, errors.InitDataReadFailed)
	}
	return &d, nil
}

// Write stores d as init_data.xml in slotDir. The file is written to a temp
// name and renamed so a worker never sees a partial file.
func Write(slotDir string, d *AppInitData) error {
	var buf bytes.Buffer
	if err := Encode(&buf, d); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(slotDir, ".init_data-*")
	if err != nil {
		return errors.Wrap(err, errors.InitDataWriteFailed)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, errors.InitDataWriteFailed)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.InitDataWriteFailed)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.InitDataWriteFailed)
	}
	if err := os.Rename(tmpName, filepath.Join(slotDir, FileName)); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.InitDataWriteFailed)
	}
	return nil
}

// Read loads init_data.xml from slotDir.
func Read(slotDir string) (*AppInitData, error) {
	f, err := os.Open(filepath.Join(slotDir, FileName))
	if err != nil {
		return nil, errors.Wrap(err, errors.InitDataReadFailed)
	}
	defer f.Close()
	return Decode(f)
}
