package collection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection is the full persisted state: albums keyed by species key plus the
// recent photos feed. Order keeps album keys in insertion order, which is the
// order albums are written to the blob and listed to callers.
type Collection struct {
	Albums       map[string]Album
	Order        []string
	RecentPhotos []Photo
}

// NewCollection returns an empty Collection.
func NewCollection() *Collection {
	return &Collection{Albums: make(map[string]Album)}
}

// AlbumList returns albums in insertion order.
func (c *Collection) AlbumList() []Album {
	out := make([]Album, 0, len(c.Order))
	for _, key := range c.Order {
		out = append(out, c.Albums[key])
	}
	return out
}

func (c *Collection) clone() *Collection {
	out := &Collection{
		Albums:       make(map[string]Album, len(c.Albums)),
		Order:        append([]string(nil), c.Order...),
		RecentPhotos: append([]Photo(nil), c.RecentPhotos...),
	}
	for key, album := range c.Albums {
		out.Albums[key] = album.clone()
	}
	return out
}

type wireCollection struct {
	Albums       json.RawMessage `json:"albums"`
	RecentPhotos []Photo         `json:"recentPhotos"`
}

// MarshalJSON writes {"albums": {...}, "recentPhotos": [...]} with albums in
// insertion order.
func (c *Collection) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"albums":{`)
	for i, key := range c.Order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(c.Albums[key])
		if err != nil {
			return nil, fmt.Errorf("album %q: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteString(`},"recentPhotos":`)

	recent := c.RecentPhotos
	if recent == nil {
		recent = []Photo{}
	}
	r, err := json.Marshal(recent)
	if err != nil {
		return nil, err
	}
	buf.Write(r)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the blob written by MarshalJSON, keeping album order.
// Structurally valid JSON that breaks collection invariants (an album without
// photos, a key that is not normalized) is rejected as corrupt.
func (c *Collection) UnmarshalJSON(data []byte) error {
	var wire wireCollection
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	albums := make(map[string]Album)
	var order []string

	if len(wire.Albums) > 0 && !bytes.Equal(bytes.TrimSpace(wire.Albums), []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(wire.Albums))
		if err := expectDelim(dec, '{'); err != nil {
			return err
		}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return err
			}
			key, ok := tok.(string)
			if !ok {
				return fmt.Errorf("collection: album key is %T, want string", tok)
			}

			var album Album
			if err := dec.Decode(&album); err != nil {
				return fmt.Errorf("collection: album %q: %w", key, err)
			}
			if err := normalizeAlbum(key, &album); err != nil {
				return err
			}
			if _, dup := albums[key]; !dup {
				order = append(order, key)
			}
			albums[key] = album
		}
		if err := expectDelim(dec, '}'); err != nil {
			return err
		}
	}

	recent := wire.RecentPhotos
	for i := range recent {
		normalizePhoto(&recent[i])
	}
	if len(recent) > MaxRecentPhotos {
		recent = recent[:MaxRecentPhotos]
	}
	if len(recent) == 0 {
		recent = nil
	}

	c.Albums = albums
	c.Order = order
	c.RecentPhotos = recent
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("collection: expected %q, got %v", want, tok)
	}
	return nil
}

var errEmptyAlbum = errors.New("collection: album has no photos")

func normalizeAlbum(key string, album *Album) error {
	if key == "" || key != SpeciesKey(key) {
		return fmt.Errorf("collection: album key %q is not normalized", key)
	}
	if len(album.Photos) == 0 {
		return fmt.Errorf("%w: %q", errEmptyAlbum, key)
	}
	if album.ID == "" {
		album.ID = key
	}
	for i := range album.Photos {
		normalizePhoto(&album.Photos[i])
	}
	return nil
}

func normalizePhoto(p *Photo) {
	if p.Source == "" {
		p.Source = SourceUpload
	}
}

// Encode serializes c for a Backend.
func Encode(c *Collection) ([]byte, error) {
	return json.Marshal(c)
}

// Decode parses a Backend payload. An empty payload is an empty collection.
func Decode(data []byte) (*Collection, error) {
	c := NewCollection()
	if len(bytes.TrimSpace(data)) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}
