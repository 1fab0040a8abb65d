// Package dictionary maps kana readings to conversion candidates.
//
// Readings are stored in a patricia trie so that a reading can be split into
// known words by walking the prefixes of each suffix.
package dictionary

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tchap/go-patricia/v2/patricia"
)

//go:embed builtin.tsv
var builtinTSV string

// DefaultCost is assigned to entries loaded without a cost column.
const DefaultCost = 50

// Segmentation costs. A known word costs the same regardless of length, so
// longer matches win; an unknown rune costs more than any single word.
const (
	knownSegmentCost = 1
	unknownRuneCost  = 2
)

// Entry is one reading/word pair. Lower cost ranks first.
type Entry struct {
	Reading string
	Word    string
	Cost    int
}

// Dictionary is safe for concurrent use.
type Dictionary struct {
	mu   sync.RWMutex
	trie *patricia.Trie
	size int
}

// New returns an empty dictionary.
func New() *Dictionary {
	return &Dictionary{trie: patricia.NewTrie()}
}

// Builtin returns a dictionary holding the embedded word list.
func Builtin() *Dictionary {
	d := New()
	if _, err := d.Load(strings.NewReader(builtinTSV)); err != nil {
		panic(fmt.Sprintf("dictionary: builtin word list: %v", err))
	}
	return d
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.size
}

// Add inserts an entry. A word already present under the reading keeps the
// lower of the two costs.
func (d *Dictionary) Add(e Entry) {
	if e.Reading == "" || e.Word == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	key := patricia.Prefix(e.Reading)
	var entries []Entry
	if item := d.trie.Get(key); item != nil {
		entries = item.([]Entry)
	}
	for i := range entries {
		if entries[i].Word == e.Word {
			if e.Cost < entries[i].Cost {
				entries[i].Cost = e.Cost
				sortEntries(entries)
			}
			return
		}
	}
	entries = append(entries, e)
	sortEntries(entries)
	d.trie.Set(key, entries)
	d.size++
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Cost < entries[j].Cost
	})
}

// Load reads tab-separated "reading<TAB>word[<TAB>cost]" lines. Blank lines
// and lines starting with '#' are skipped. It returns the number of entries
// read.
func (d *Dictionary) Load(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	n := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return n, fmt.Errorf("line %d: want reading and word, got %q", lineNo, line)
		}
		e := Entry{Reading: fields[0], Word: fields[1], Cost: DefaultCost}
		if len(fields) > 2 {
			cost, err := strconv.Atoi(strings.TrimSpace(fields[2]))
			if err != nil {
				return n, fmt.Errorf("line %d: bad cost: %w", lineNo, err)
			}
			e.Cost = cost
		}
		d.Add(e)
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("read dictionary: %w", err)
	}
	return n, nil
}

// LoadFile merges a TSV dictionary file.
func (d *Dictionary) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close()
	return d.Load(f)
}

// Lookup returns the entries for an exact reading, best first.
func (d *Dictionary) Lookup(reading string) []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	item := d.trie.Get(patricia.Prefix(reading))
	if item == nil {
		return nil
	}
	entries := item.([]Entry)
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Segment splits a reading into the lowest-cost sequence of pieces. Pieces
// that are dictionary readings cost knownSegmentCost; anything else is split
// into single runes costing unknownRuneCost each. Ties prefer the longer
// leading piece.
func (d *Dictionary) Segment(reading string) []string {
	if reading == "" {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := len(reading)
	const inf = int(^uint(0) >> 1)
	// best[i] is the cost of segmenting reading[i:]; next[i] is where the
	// first piece of that segmentation ends.
	best := make([]int, n+1)
	next := make([]int, n+1)
	for i := range best {
		best[i] = inf
	}
	best[n] = 0

	for i := n - 1; i >= 0; i-- {
		if !utf8.RuneStart(reading[i]) {
			continue
		}
		_, size := utf8.DecodeRuneInString(reading[i:])
		if best[i+size] != inf {
			best[i] = best[i+size] + unknownRuneCost
			next[i] = i + size
		}
		_ = d.trie.VisitPrefixes(patricia.Prefix(reading[i:]), func(p patricia.Prefix, _ patricia.Item) error {
			end := i + len(p)
			if len(p) == 0 || best[end] == inf {
				return nil
			}
			cost := best[end] + knownSegmentCost
			if cost < best[i] || (cost == best[i] && end > next[i]) {
				best[i] = cost
				next[i] = end
			}
			return nil
		})
	}

	var pieces []string
	for i := 0; i < n; i = next[i] {
		pieces = append(pieces, reading[i:next[i]])
	}
	return pieces
}
