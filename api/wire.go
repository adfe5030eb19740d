// Package api implements APIFacade (§4.9): the thin dispatcher that
// turns a QueryRequest into a QueryResponse, and the dual wire
// encodings (§6) a transport layer uses to carry them — JSON with
// minute-precision UTC timestamp strings, and a BinaryCodec framing
// for callers that want to avoid JSON's overhead.
//
// JSON timestamps use this package's own wireTime ("yyyyMMddHHmm", UTC);
// the binary framing is built on internal/codec's primitives; the request-level Blacklist wire shape has no
// literal schema in the protocol this was distilled from, so
// WireBlacklist's (pattern, regex) list-of-scopes representation is
// this package's own design, recorded as an Open Question resolution.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/quay/versiontracker"
	"github.com/quay/versiontracker/blacklist"
	"github.com/quay/versiontracker/internal/codec"
)

// Protocol identifies the first byte of a framed wire message.
type Protocol byte

const (
	ProtocolJSON   Protocol = 1
	ProtocolBinary Protocol = 2
)

// QueryRequest is the decoded form of the query protocol's request
// object, independent of wire encoding.
type QueryRequest struct {
	Command       string                   `json:"command"`
	ClientVersion string                   `json:"clientVersion"`
	Artifacts     []versiontracker.Artifact `json:"artifacts"`
	Blacklist     *WireBlacklist           `json:"blacklist"`
}

// ArtifactResponse is a single entry of QueryResponse.Artifacts.
type ArtifactResponse struct {
	Artifact        versiontracker.Artifact       `json:"artifact"`
	CurrentVersion  *versiontracker.Version       `json:"currentVersion,omitempty"`
	LatestVersion   *versiontracker.Version       `json:"latestVersion,omitempty"`
	UpdateAvailable versiontracker.UpdateAvailable `json:"updateAvailable"`
}

// QueryResponse is the decoded form of the query protocol's response
// object.
type QueryResponse struct {
	ServerVersion string             `json:"serverVersion"`
	Artifacts     []ArtifactResponse `json:"artifacts"`
}

// WirePattern is a single blacklist matcher as carried over the wire.
type WirePattern struct {
	Pattern string `json:"pattern"`
	Regex   bool   `json:"regex,omitempty"`
}

// WireBlacklist is a client-supplied, request-scoped Blacklist: a
// global list plus per-group and per-(group,artifact) lists, keyed by
// groupId and by "groupId:artifactId" respectively.
type WireBlacklist struct {
	Global      []WirePattern            `json:"global,omitempty"`
	Groups      map[string][]WirePattern `json:"groups,omitempty"`
	Coordinates map[string][]WirePattern `json:"coordinates,omitempty"`
}

// ToBlacklist builds a *blacklist.Blacklist from wb. A nil wb yields
// an empty Blacklist, matching the protocol's `blacklist: null`.
func (wb *WireBlacklist) ToBlacklist() *blacklist.Blacklist {
	bl := blacklist.New()
	if wb == nil {
		return bl
	}
	addList := func(add func(pattern string, kind blacklist.MatchKind), list []WirePattern) {
		for _, p := range list {
			kind := blacklist.Exact
			if p.Regex {
				kind = blacklist.Regex
			}
			add(p.Pattern, kind)
		}
	}
	addList(bl.AddGlobal, wb.Global)
	for groupID, list := range wb.Groups {
		groupID := groupID
		addList(func(pattern string, kind blacklist.MatchKind) {
			bl.AddGroup(groupID, pattern, kind)
		}, list)
	}
	for coord, list := range wb.Coordinates {
		groupID, artifactID, ok := strings.Cut(coord, ":")
		if !ok {
			continue
		}
		addList(func(pattern string, kind blacklist.MatchKind) {
			bl.AddCoordinate(groupID, artifactID, pattern, kind)
		}, list)
	}
	return bl
}

// wireTime marshals as the §6 "yyyyMMddHHmm" UTC string.
type wireTime time.Time

const wireTimeLayout = "200601021504"

func (t wireTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(wireTimeLayout))
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(wireTimeLayout, s)
	if err != nil {
		return err
	}
	*t = wireTime(parsed)
	return nil
}

// wireVersion mirrors versiontracker.Version for JSON wire encoding.
type wireVersion struct {
	VersionString     string    `json:"version"`
	ReleaseDate       *wireTime `json:"releaseDate,omitempty"`
	FirstSeenByServer *wireTime `json:"firstSeenByServer,omitempty"`
}

func toWireVersion(v *versiontracker.Version) *wireVersion {
	if v == nil {
		return nil
	}
	out := &wireVersion{VersionString: v.VersionString}
	if v.ReleaseDate != nil {
		wt := wireTime(*v.ReleaseDate)
		out.ReleaseDate = &wt
	}
	if v.FirstSeenByServer != nil {
		wt := wireTime(*v.FirstSeenByServer)
		out.FirstSeenByServer = &wt
	}
	return out
}

func fromWireVersion(v *wireVersion) *versiontracker.Version {
	if v == nil {
		return nil
	}
	out := &versiontracker.Version{VersionString: v.VersionString}
	if v.ReleaseDate != nil {
		t := time.Time(*v.ReleaseDate)
		out.ReleaseDate = &t
	}
	if v.FirstSeenByServer != nil {
		t := time.Time(*v.FirstSeenByServer)
		out.FirstSeenByServer = &t
	}
	return out
}

// wireArtifactResponse mirrors ArtifactResponse for JSON wire encoding.
type wireArtifactResponse struct {
	Artifact        versiontracker.Artifact       `json:"artifact"`
	CurrentVersion  *wireVersion                  `json:"currentVersion,omitempty"`
	LatestVersion   *wireVersion                  `json:"latestVersion,omitempty"`
	UpdateAvailable versiontracker.UpdateAvailable `json:"updateAvailable"`
}

type wireQueryResponse struct {
	ServerVersion string                 `json:"serverVersion"`
	Artifacts     []wireArtifactResponse `json:"artifacts"`
}

// MarshalJSON implements the §6 JSON wire encoding, with
// minute-precision UTC timestamp strings in place of Go's default RFC
// 3339 encoding.
func (r *QueryResponse) MarshalJSON() ([]byte, error) {
	out := wireQueryResponse{ServerVersion: r.ServerVersion, Artifacts: make([]wireArtifactResponse, len(r.Artifacts))}
	for i, a := range r.Artifacts {
		out.Artifacts[i] = wireArtifactResponse{
			Artifact:        a.Artifact,
			CurrentVersion:  toWireVersion(a.CurrentVersion),
			LatestVersion:   toWireVersion(a.LatestVersion),
			UpdateAvailable: a.UpdateAvailable,
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *QueryResponse) UnmarshalJSON(b []byte) error {
	var in wireQueryResponse
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	r.ServerVersion = in.ServerVersion
	r.Artifacts = make([]ArtifactResponse, len(in.Artifacts))
	for i, a := range in.Artifacts {
		r.Artifacts[i] = ArtifactResponse{
			Artifact:        a.Artifact,
			CurrentVersion:  fromWireVersion(a.CurrentVersion),
			LatestVersion:   fromWireVersion(a.LatestVersion),
			UpdateAvailable: a.UpdateAvailable,
		}
	}
	return nil
}

// DecodeRequest reads a framed wire message: a single protocol byte
// followed by either a JSON or BinaryCodec-encoded QueryRequest.
func DecodeRequest(r io.Reader) (*QueryRequest, error) {
	var proto [1]byte
	if _, err := io.ReadFull(r, proto[:]); err != nil {
		return nil, fmt.Errorf("reading protocol byte: %w", err)
	}
	switch Protocol(proto[0]) {
	case ProtocolJSON:
		var req QueryRequest
		if err := json.NewDecoder(r).Decode(&req); err != nil {
			return nil, fmt.Errorf("decoding JSON query request: %w", err)
		}
		return &req, nil
	case ProtocolBinary:
		return decodeRequestBinary(r)
	default:
		return nil, &versiontracker.Error{Op: "api.DecodeRequest", Kind: versiontracker.ErrInvalidFormat, Message: fmt.Sprintf("unknown protocol byte 0x%02x", proto[0])}
	}
}

// EncodeResponse writes a framed wire message in the given protocol.
func EncodeResponse(w io.Writer, proto Protocol, resp *QueryResponse) error {
	if _, err := w.Write([]byte{byte(proto)}); err != nil {
		return err
	}
	switch proto {
	case ProtocolJSON:
		return json.NewEncoder(w).Encode(resp)
	case ProtocolBinary:
		return encodeResponseBinary(w, resp)
	default:
		return &versiontracker.Error{Op: "api.EncodeResponse", Kind: versiontracker.ErrInvalidFormat, Message: fmt.Sprintf("unknown protocol %d", proto)}
	}
}

func writeArtifact(w *codec.Writer, a versiontracker.Artifact) {
	w.WriteString(a.GroupID)
	w.WriteString(a.ArtifactID)
	w.WriteString(a.Version)
	w.WriteString(a.Classifier)
	w.WriteString(a.Type)
}

func readArtifact(r *codec.Reader) (versiontracker.Artifact, error) {
	var a versiontracker.Artifact
	var err error
	if a.GroupID, err = r.ReadString(); err != nil {
		return a, err
	}
	if a.ArtifactID, err = r.ReadString(); err != nil {
		return a, err
	}
	if a.Version, err = r.ReadString(); err != nil {
		return a, err
	}
	if a.Classifier, err = r.ReadString(); err != nil {
		return a, err
	}
	if a.Type, err = r.ReadString(); err != nil {
		return a, err
	}
	return a, nil
}

func writePatternList(w *codec.Writer, list []WirePattern) {
	w.WriteInt(int32(len(list)))
	for _, p := range list {
		w.WriteString(p.Pattern)
		w.WriteBoolean(p.Regex)
	}
}

func readPatternList(r *codec.Reader) ([]WirePattern, error) {
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]WirePattern, n)
	for i := range out {
		if out[i].Pattern, err = r.ReadString(); err != nil {
			return nil, err
		}
		if out[i].Regex, err = r.ReadBoolean(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeBlacklist(w *codec.Writer, bl *WireBlacklist) {
	if bl == nil {
		w.WriteBoolean(false)
		return
	}
	w.WriteBoolean(true)
	writePatternList(w, bl.Global)
	w.WriteInt(int32(len(bl.Groups)))
	for groupID, list := range bl.Groups {
		w.WriteString(groupID)
		writePatternList(w, list)
	}
	w.WriteInt(int32(len(bl.Coordinates)))
	for coord, list := range bl.Coordinates {
		w.WriteString(coord)
		writePatternList(w, list)
	}
}

func readBlacklist(r *codec.Reader) (*WireBlacklist, error) {
	present, err := r.ReadBoolean()
	if err != nil || !present {
		return nil, err
	}
	bl := &WireBlacklist{}
	if bl.Global, err = readPatternList(r); err != nil {
		return nil, err
	}
	nGroups, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	if nGroups > 0 {
		bl.Groups = make(map[string][]WirePattern, nGroups)
		for i := int32(0); i < nGroups; i++ {
			groupID, err := r.ReadString()
			if err != nil {
				return nil, err
			}
			list, err := readPatternList(r)
			if err != nil {
				return nil, err
			}
			bl.Groups[groupID] = list
		}
	}
	nCoords, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	if nCoords > 0 {
		bl.Coordinates = make(map[string][]WirePattern, nCoords)
		for i := int32(0); i < nCoords; i++ {
			coord, err := r.ReadString()
			if err != nil {
				return nil, err
			}
			list, err := readPatternList(r)
			if err != nil {
				return nil, err
			}
			bl.Coordinates[coord] = list
		}
	}
	return bl, nil
}

func decodeRequestBinary(r io.Reader) (*QueryRequest, error) {
	cr := codec.NewReader(r)
	req := &QueryRequest{}
	var err error
	if req.Command, err = cr.ReadString(); err != nil {
		return nil, err
	}
	if req.ClientVersion, err = cr.ReadString(); err != nil {
		return nil, err
	}
	n, err := cr.ReadInt()
	if err != nil {
		return nil, err
	}
	req.Artifacts = make([]versiontracker.Artifact, n)
	for i := range req.Artifacts {
		if req.Artifacts[i], err = readArtifact(cr); err != nil {
			return nil, err
		}
	}
	if req.Blacklist, err = readBlacklist(cr); err != nil {
		return nil, err
	}
	return req, nil
}

func encodeResponseBinary(w io.Writer, resp *QueryResponse) error {
	cw := codec.NewWriter(w)
	cw.WriteString(resp.ServerVersion)
	cw.WriteInt(int32(len(resp.Artifacts)))
	for _, a := range resp.Artifacts {
		writeArtifact(cw, a.Artifact)
		writeOptionalVersion(cw, a.CurrentVersion)
		writeOptionalVersion(cw, a.LatestVersion)
		cw.WriteString(string(a.UpdateAvailable))
	}
	return cw.Err()
}

func writeOptionalVersion(w *codec.Writer, v *versiontracker.Version) {
	if v == nil {
		w.WriteBoolean(false)
		return
	}
	w.WriteBoolean(true)
	w.WriteString(v.VersionString)
	w.WriteTimestamp(v.ReleaseDate)
	w.WriteTimestamp(v.FirstSeenByServer)
}

func readOptionalVersion(r *codec.Reader) (*versiontracker.Version, error) {
	present, err := r.ReadBoolean()
	if err != nil || !present {
		return nil, err
	}
	v := &versiontracker.Version{}
	if v.VersionString, err = r.ReadString(); err != nil {
		return nil, err
	}
	if v.ReleaseDate, err = r.ReadTimestamp(); err != nil {
		return nil, err
	}
	if v.FirstSeenByServer, err = r.ReadTimestamp(); err != nil {
		return nil, err
	}
	return v, nil
}

// EncodeRequest writes a framed wire message carrying req, in the
// given protocol. Used by clients of the query protocol; the server
// side only needs DecodeRequest.
func EncodeRequest(w io.Writer, proto Protocol, req *QueryRequest) error {
	if _, err := w.Write([]byte{byte(proto)}); err != nil {
		return err
	}
	switch proto {
	case ProtocolJSON:
		return json.NewEncoder(w).Encode(req)
	case ProtocolBinary:
		cw := codec.NewWriter(w)
		cw.WriteString(req.Command)
		cw.WriteString(req.ClientVersion)
		cw.WriteInt(int32(len(req.Artifacts)))
		for _, a := range req.Artifacts {
			writeArtifact(cw, a)
		}
		writeBlacklist(cw, req.Blacklist)
		return cw.Err()
	default:
		return &versiontracker.Error{Op: "api.EncodeRequest", Kind: versiontracker.ErrInvalidFormat, Message: fmt.Sprintf("unknown protocol %d", proto)}
	}
}

// DecodeResponse reads a framed wire message carrying a QueryResponse.
// Used by clients of the query protocol; the server side only needs
// EncodeResponse.
func DecodeResponse(r io.Reader) (*QueryResponse, error) {
	var proto [1]byte
	if _, err := io.ReadFull(r, proto[:]); err != nil {
		return nil, fmt.Errorf("reading protocol byte: %w", err)
	}
	switch Protocol(proto[0]) {
	case ProtocolJSON:
		var resp QueryResponse
		if err := json.NewDecoder(r).Decode(&resp); err != nil {
			return nil, fmt.Errorf("decoding JSON query response: %w", err)
		}
		return &resp, nil
	case ProtocolBinary:
		cr := codec.NewReader(r)
		resp := &QueryResponse{}
		var err error
		if resp.ServerVersion, err = cr.ReadString(); err != nil {
			return nil, err
		}
		n, err := cr.ReadInt()
		if err != nil {
			return nil, err
		}
		resp.Artifacts = make([]ArtifactResponse, n)
		for i := range resp.Artifacts {
			a := &resp.Artifacts[i]
			if a.Artifact, err = readArtifact(cr); err != nil {
				return nil, err
			}
			if a.CurrentVersion, err = readOptionalVersion(cr); err != nil {
				return nil, err
			}
			if a.LatestVersion, err = readOptionalVersion(cr); err != nil {
				return nil, err
			}
			var ua string
			if ua, err = cr.ReadString(); err != nil {
				return nil, err
			}
			a.UpdateAvailable = versiontracker.UpdateAvailable(ua)
		}
		return resp, nil
	default:
		return nil, &versiontracker.Error{Op: "api.DecodeResponse", Kind: versiontracker.ErrInvalidFormat, Message: fmt.Sprintf("unknown protocol byte 0x%02x", proto[0])}
	}
}
