package flatfile

import (
	"bytes"
	"io"
	"time"

	"github.com/quay/versiontracker"
	"github.com/quay/versiontracker/internal/codec"
)

// Magic is the 6-byte header every binary-format file begins with.
var Magic = [6]byte{'V', 'T', 'R', 'K', 0x00, 0x01}

// Binary format versions understood by the reader. The writer always
// emits CurrentVersion.
const (
	// V1 predates per-Artifact classifier/type and per-Version
	// firstSeenByServer.
	V1 uint16 = 1
	// V2 adds classifier/type to the Artifact record.
	V2 uint16 = 2
	// V3 adds firstSeenByServer to each Version record.
	V3             uint16 = 3
	CurrentVersion uint16 = V3
)

// writeBinary serializes infos as a magic header, a 2-byte format
// version, a VERSION_DATA record per entry, and a terminating
// END_OF_FILE record.
func writeBinary(w io.Writer, infos []*versiontracker.VersionInfo) error {
	if _, err := w.Write(Magic[:]); err != nil {
		return err
	}
	var verBuf [2]byte
	verBuf[0] = byte(CurrentVersion >> 8)
	verBuf[1] = byte(CurrentVersion)
	if _, err := w.Write(verBuf[:]); err != nil {
		return err
	}

	rw := codec.NewRecordWriter(w)
	for _, info := range infos {
		if err := rw.WriteByte(codec.TagVersionData); err != nil {
			return err
		}
		if err := writeVersionInfo(rw.Writer, info); err != nil {
			return err
		}
	}
	return rw.WriteEndOfFile()
}

func writeVersionInfo(w *codec.Writer, info *versiontracker.VersionInfo) error {
	w.WriteString(info.Artifact.GroupID)
	w.WriteString(info.Artifact.ArtifactID)
	w.WriteOptionalString(nonEmpty(info.Artifact.Classifier))
	w.WriteOptionalString(nonEmpty(info.Artifact.Type))
	w.WriteTimestamp(info.CreationDate)
	w.WriteTimestamp(info.LastRequestDate)
	w.WriteTimestamp(info.LastSuccessDate)
	w.WriteTimestamp(info.LastFailureDate)
	w.WriteTimestamp(info.LastRepositoryUpdate)
	writeOptionalVersion(w, info.LatestReleaseVersion)
	writeOptionalVersion(w, info.LatestSnapshotVersion)
	w.WriteInt(int32(len(info.Versions)))
	for i := range info.Versions {
		writeVersion(w, &info.Versions[i])
	}
	return w.Err()
}

func writeOptionalVersion(w *codec.Writer, v *versiontracker.Version) {
	if v == nil {
		w.WriteBoolean(false)
		return
	}
	w.WriteBoolean(true)
	writeVersion(w, v)
}

func writeVersion(w *codec.Writer, v *versiontracker.Version) {
	w.WriteString(v.VersionString)
	w.WriteTimestamp(v.ReleaseDate)
	w.WriteTimestamp(v.FirstSeenByServer)
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// readBinaryResult carries the loaded entries plus the format version
// the file was read at, so callers can detect a migration occurred.
type readBinaryResult struct {
	infos          []*versiontracker.VersionInfo
	fileFormatVers uint16
}

func readBinary(r io.Reader, loadInstant time.Time) (*readBinaryResult, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, &versiontracker.Error{Kind: versiontracker.ErrInvalidFormat, Op: "flatfile.readBinary", Message: "short header", Inner: err}
	}
	if !bytes.Equal(hdr[:6], Magic[:]) {
		return nil, &versiontracker.Error{Kind: versiontracker.ErrInvalidFormat, Op: "flatfile.readBinary", Message: "bad magic"}
	}
	fileVers := uint16(hdr[6])<<8 | uint16(hdr[7])

	rr := codec.NewRecordReader(r)
	var out []*versiontracker.VersionInfo
	for {
		tag, err := rr.NextTag()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if tag != codec.TagVersionData {
			return nil, &versiontracker.Error{Kind: versiontracker.ErrInvalidFormat, Op: "flatfile.readBinary", Message: "unknown record tag"}
		}
		info, err := readVersionInfo(rr.Reader, fileVers, loadInstant)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return &readBinaryResult{infos: out, fileFormatVers: fileVers}, nil
}

func readVersionInfo(r *codec.Reader, fileVers uint16, loadInstant time.Time) (*versiontracker.VersionInfo, error) {
	info := &versiontracker.VersionInfo{}
	var err error
	if info.Artifact.GroupID, err = r.ReadString(); err != nil {
		return nil, err
	}
	if info.Artifact.ArtifactID, err = r.ReadString(); err != nil {
		return nil, err
	}
	if fileVers >= V2 {
		cl, err := r.ReadOptionalString()
		if err != nil {
			return nil, err
		}
		if cl != nil {
			info.Artifact.Classifier = *cl
		}
		ty, err := r.ReadOptionalString()
		if err != nil {
			return nil, err
		}
		if ty != nil {
			info.Artifact.Type = *ty
		}
	}
	if info.CreationDate, err = r.ReadTimestamp(); err != nil {
		return nil, err
	}
	if info.LastRequestDate, err = r.ReadTimestamp(); err != nil {
		return nil, err
	}
	if info.LastSuccessDate, err = r.ReadTimestamp(); err != nil {
		return nil, err
	}
	if info.LastFailureDate, err = r.ReadTimestamp(); err != nil {
		return nil, err
	}
	if info.LastRepositoryUpdate, err = r.ReadTimestamp(); err != nil {
		return nil, err
	}
	if info.LatestReleaseVersion, err = readOptionalVersion(r, fileVers, loadInstant); err != nil {
		return nil, err
	}
	if info.LatestSnapshotVersion, err = readOptionalVersion(r, fileVers, loadInstant); err != nil {
		return nil, err
	}
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	info.Versions = make([]versiontracker.Version, n)
	for i := range info.Versions {
		v, err := readVersion(r, fileVers, loadInstant)
		if err != nil {
			return nil, err
		}
		info.Versions[i] = *v
	}
	return info, nil
}

func readOptionalVersion(r *codec.Reader, fileVers uint16, loadInstant time.Time) (*versiontracker.Version, error) {
	present, err := r.ReadBoolean()
	if err != nil || !present {
		return nil, err
	}
	return readVersion(r, fileVers, loadInstant)
}

func readVersion(r *codec.Reader, fileVers uint16, loadInstant time.Time) (*versiontracker.Version, error) {
	v := &versiontracker.Version{}
	var err error
	if v.VersionString, err = r.ReadString(); err != nil {
		return nil, err
	}
	if v.ReleaseDate, err = r.ReadTimestamp(); err != nil {
		return nil, err
	}
	if fileVers >= V3 {
		if v.FirstSeenByServer, err = r.ReadTimestamp(); err != nil {
			return nil, err
		}
	}
	if v.FirstSeenByServer == nil {
		t := loadInstant
		v.FirstSeenByServer = &t
	}
	return v, nil
}
