package flatfile

import (
	"encoding/json"
	"io"
	"time"

	"github.com/quay/versiontracker"
)

// textDocument is the on-disk shape of the text format: a single
// object holding every tracked entry.
type textDocument struct {
	Entries []*textVersionInfo `json:"entries"`
}

// textVersionInfo mirrors versiontracker.VersionInfo with full-precision
// timestamp strings. This is deliberately its own type, independent of
// api/wire.go's minute-precision wireTime: the §6 wire protocol is
// explicitly lossy (yyyyMMddHHmm), but on-disk storage must round-trip
// every timestamp exactly (§8 "Format round-trip"), including
// Version.releaseDate's millisecond precision (§3).
type textVersionInfo struct {
	Artifact              versiontracker.Artifact `json:"artifact"`
	CreationDate          *textTime               `json:"creationDate,omitempty"`
	LastRequestDate       *textTime               `json:"lastRequestDate,omitempty"`
	LastSuccessDate       *textTime               `json:"lastSuccessDate,omitempty"`
	LastFailureDate       *textTime               `json:"lastFailureDate,omitempty"`
	LastRepositoryUpdate  *textTime               `json:"lastRepositoryUpdate,omitempty"`
	LatestReleaseVersion  *textVersion            `json:"latestReleaseVersion,omitempty"`
	LatestSnapshotVersion *textVersion            `json:"latestSnapshotVersion,omitempty"`
	Versions              []textVersion           `json:"versions"`
}

type textVersion struct {
	VersionString     string    `json:"version"`
	ReleaseDate       *textTime `json:"releaseDate,omitempty"`
	FirstSeenByServer *textTime `json:"firstSeenByServer,omitempty"`
}

// textTime marshals with full (sub-millisecond) precision, so the text
// backend round-trips exactly rather than truncating to the minute.
type textTime time.Time

func (t textTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339Nano))
}

func (t *textTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*t = textTime(parsed)
	return nil
}

func toTextTime(t *time.Time) *textTime {
	if t == nil {
		return nil
	}
	tt := textTime(*t)
	return &tt
}

func fromTextTime(t *textTime) *time.Time {
	if t == nil {
		return nil
	}
	v := time.Time(*t)
	return &v
}

func toTextVersion(v *versiontracker.Version) *textVersion {
	if v == nil {
		return nil
	}
	return &textVersion{
		VersionString:     v.VersionString,
		ReleaseDate:       toTextTime(v.ReleaseDate),
		FirstSeenByServer: toTextTime(v.FirstSeenByServer),
	}
}

func fromTextVersion(v textVersion) versiontracker.Version {
	return versiontracker.Version{
		VersionString:     v.VersionString,
		ReleaseDate:       fromTextTime(v.ReleaseDate),
		FirstSeenByServer: fromTextTime(v.FirstSeenByServer),
	}
}

func writeText(w io.Writer, infos []*versiontracker.VersionInfo) error {
	doc := textDocument{Entries: make([]*textVersionInfo, len(infos))}
	for i, info := range infos {
		versions := make([]textVersion, len(info.Versions))
		for j := range info.Versions {
			versions[j] = *toTextVersion(&info.Versions[j])
		}
		doc.Entries[i] = &textVersionInfo{
			Artifact:              info.Artifact,
			CreationDate:          toTextTime(info.CreationDate),
			LastRequestDate:       toTextTime(info.LastRequestDate),
			LastSuccessDate:       toTextTime(info.LastSuccessDate),
			LastFailureDate:       toTextTime(info.LastFailureDate),
			LastRepositoryUpdate:  toTextTime(info.LastRepositoryUpdate),
			LatestReleaseVersion:  toTextVersion(info.LatestReleaseVersion),
			LatestSnapshotVersion: toTextVersion(info.LatestSnapshotVersion),
			Versions:              versions,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&doc)
}

func readText(r io.Reader, loadInstant time.Time) ([]*versiontracker.VersionInfo, error) {
	var doc textDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &versiontracker.Error{Kind: versiontracker.ErrInvalidFormat, Op: "flatfile.readText", Inner: err}
	}
	out := make([]*versiontracker.VersionInfo, len(doc.Entries))
	for i, e := range doc.Entries {
		versions := make([]versiontracker.Version, len(e.Versions))
		for j, v := range e.Versions {
			versions[j] = fromTextVersion(v)
			if versions[j].FirstSeenByServer == nil {
				t := loadInstant
				versions[j].FirstSeenByServer = &t
			}
		}
		info := &versiontracker.VersionInfo{
			Artifact:             e.Artifact,
			CreationDate:         fromTextTime(e.CreationDate),
			LastRequestDate:      fromTextTime(e.LastRequestDate),
			LastSuccessDate:      fromTextTime(e.LastSuccessDate),
			LastFailureDate:      fromTextTime(e.LastFailureDate),
			LastRepositoryUpdate: fromTextTime(e.LastRepositoryUpdate),
			Versions:             versions,
		}
		if e.LatestReleaseVersion != nil {
			v := fromTextVersion(*e.LatestReleaseVersion)
			if v.FirstSeenByServer == nil {
				t := loadInstant
				v.FirstSeenByServer = &t
			}
			info.LatestReleaseVersion = &v
		}
		if e.LatestSnapshotVersion != nil {
			v := fromTextVersion(*e.LatestSnapshotVersion)
			if v.FirstSeenByServer == nil {
				t := loadInstant
				v.FirstSeenByServer = &t
			}
			info.LatestSnapshotVersion = &v
		}
		out[i] = info
	}
	return out, nil
}
