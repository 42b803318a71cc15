package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// RevisionField is the reserved body field that mirrors the document revision.
const RevisionField = "_rev"

// MaxIdentifierLength bounds document ids, types, attachment names and tenant keys.
const MaxIdentifierLength = 250

// identifiers are limited to the unreserved URI characters of RFC 3986
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9._~-]+$`)

var (
	ErrValidation         = errors.New("invalid identifier or body")
	ErrConflict           = errors.New("document already exists")
	ErrPreconditionFailed = errors.New("document revision precondition failed")
	ErrNotFound           = errors.New("document not found")
)

// ValidateIdentifier checks v against the identifier syntax. kind names the
// value in the returned error ("document id", "attachment name", ...).
func ValidateIdentifier(kind, v string) error {
	err := validation.Validate(v,
		validation.Required,
		validation.Length(1, MaxIdentifierLength),
		validation.Match(identifierPattern),
	)
	if err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrValidation, kind, v, err)
	}
	return nil
}

// Tenant is the (organization, solution) scope documents are partitioned by.
type Tenant struct {
	Organization string
	Solution     string
}

func (t Tenant) Validate() error {
	if err := ValidateIdentifier("organization", t.Organization); err != nil {
		return err
	}
	return ValidateIdentifier("solution", t.Solution)
}

func (t Tenant) String() string { return t.Organization + "/" + t.Solution }

// Reference identifies one revision of a document. It doubles as the
// precondition token for compare-and-swap, so equality covers all three fields.
type Reference struct {
	ID       string `json:"_id" bson:"docId"`
	Type     string `json:"_type" bson:"type"`
	Revision uint64 `json:"_rev" bson:"rev"`
}

// NewReference returns a validated reference.
func NewReference(id, docType string, revision uint64) (Reference, error) {
	ref := Reference{ID: id, Type: docType, Revision: revision}
	if err := ref.Validate(); err != nil {
		return Reference{}, err
	}
	return ref, nil
}

func (r Reference) Validate() error {
	if err := ValidateIdentifier("document id", r.ID); err != nil {
		return err
	}
	return ValidateIdentifier("document type", r.Type)
}

// WithRevision returns a copy of r pointing at another revision.
func (r Reference) WithRevision(rev uint64) Reference {
	r.Revision = rev
	return r
}

func (r Reference) String() string {
	return fmt.Sprintf("%s/%s@%d", r.Type, r.ID, r.Revision)
}

// Document is a business document: its identity plus the opaque JSON body.
// Body always carries the revision under RevisionField.
type Document struct {
	Reference
	Body json.RawMessage
}

// NewDocument validates the identity of a document. An invalid id or type
// yields ErrValidation.
func NewDocument(ref Reference, body json.RawMessage) (Document, error) {
	if err := ref.Validate(); err != nil {
		return Document{}, err
	}
	return Document{Reference: ref, Body: body}, nil
}

// MustNewDocument is NewDocument for identities known to be valid; it panics otherwise.
func MustNewDocument(ref Reference, body json.RawMessage) Document {
	d, err := NewDocument(ref, body)
	if err != nil {
		panic(err)
	}
	return d
}

// StampRevision returns a copy of body with RevisionField set to rev.
// body must be a JSON object. Members keep the client's order; an existing
// RevisionField is replaced in place, otherwise it is appended.
func StampRevision(body json.RawMessage, rev uint64) (json.RawMessage, error) {
	invalid := func(err error) error {
		if err == nil {
			return fmt.Errorf("%w: body must be a JSON object", ErrValidation)
		}
		return fmt.Errorf("%w: body must be a JSON object: %v", ErrValidation, err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, invalid(err)
	}

	stamp := strconv.FormatUint(rev, 10)
	out := bytes.NewBuffer(make([]byte, 0, len(body)+len(stamp)+len(RevisionField)+4))
	out.WriteByte('{')
	members, stamped := 0, false
	write := func(key string, value []byte) {
		if members > 0 {
			out.WriteByte(',')
		}
		members++
		k, _ := json.Marshal(key)
		out.Write(k)
		out.WriteByte(':')
		out.Write(value)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, invalid(err)
		}
		key, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, invalid(err)
		}
		if key != RevisionField {
			write(key, value)
			continue
		}
		// duplicate revision members collapse into the first
		if !stamped {
			write(key, []byte(stamp))
			stamped = true
		}
	}
	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return nil, invalid(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, invalid(err)
	}
	if !stamped {
		write(RevisionField, []byte(stamp))
	}
	out.WriteByte('}')
	return out.Bytes(), nil
}

// RevisionOf reads RevisionField back out of a stored body.
func RevisionOf(body json.RawMessage) (uint64, error) {
	var probe struct {
		Rev *uint64 `json:"_rev"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return 0, fmt.Errorf("decode %s: %w", RevisionField, err)
	}
	if probe.Rev == nil {
		return 0, fmt.Errorf("body has no %s field", RevisionField)
	}
	return *probe.Rev, nil
}

// Clone returns body with its own backing array so callers cannot alias store state.
func Clone(body json.RawMessage) json.RawMessage {
	if body == nil {
		return nil
	}
	out := make(json.RawMessage, len(body))
	copy(out, body)
	return out
}
