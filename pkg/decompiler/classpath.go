package decompiler

import (
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Sumatoshi-tech/srcforge/pkg/archive"
	"github.com/Sumatoshi-tech/srcforge/pkg/classfile"
)

// ErrClassNotFound is returned when no classpath archive holds a class.
var ErrClassNotFound = errors.New("class not found on classpath")

// DefaultCacheSize is the number of parsed class headers a Classpath keeps.
const DefaultCacheSize = 1024

// platformPrefixes name packages every JVM provides.
var platformPrefixes = []string{"java/", "javax/", "jdk/", "sun/"}

// Classpath resolves class names against library archives. Parsed headers
// are kept in an LRU cache; archives are opened only for the lookup.
type Classpath struct {
	index map[string]string
	local map[string]struct{}
	cache *lru.Cache[string, *classfile.Class]
}

// NewClasspath indexes the given archives. The first archive that holds a
// class wins. A non-positive cacheSize selects DefaultCacheSize.
func NewClasspath(paths []string, cacheSize int) (*Classpath, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	cache, err := lru.New[string, *classfile.Class](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("classpath cache: %w", err)
	}

	cp := &Classpath{
		index: make(map[string]string),
		local: make(map[string]struct{}),
		cache: cache,
	}

	for _, path := range paths {
		indexErr := cp.indexArchive(path)
		if indexErr != nil {
			return nil, indexErr
		}
	}

	return cp, nil
}

func (cp *Classpath) indexArchive(path string) error {
	r, err := archive.Open(path)
	if err != nil {
		return fmt.Errorf("classpath: %w", err)
	}
	defer r.Close()

	for _, u := range r.Units() {
		if _, ok := cp.index[u.Name]; !ok {
			cp.index[u.Name] = path
		}
	}

	return nil
}

// AddLocal marks names as provided by the input itself.
func (cp *Classpath) AddLocal(names ...string) {
	for _, name := range names {
		cp.local[name] = struct{}{}
	}
}

// Len returns the number of indexed library classes.
func (cp *Classpath) Len() int { return len(cp.index) }

// Has reports whether name is a platform class, a local class, or held by a
// classpath archive.
func (cp *Classpath) Has(name string) bool {
	for _, prefix := range platformPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	if _, ok := cp.local[name]; ok {
		return true
	}

	_, ok := cp.index[name]

	return ok
}

// Resolve parses the named library class.
func (cp *Classpath) Resolve(name string) (*classfile.Class, error) {
	if c, ok := cp.cache.Get(name); ok {
		return c, nil
	}

	path, ok := cp.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}

	r, err := archive.Open(path)
	if err != nil {
		return nil, fmt.Errorf("classpath: %w", err)
	}
	defer r.Close()

	data, err := r.ReadFile(classfile.EntryPath(name))
	if err != nil {
		return nil, err
	}

	c, err := classfile.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("classpath %s: %w", name, err)
	}

	cp.cache.Add(name, c)

	return c, nil
}
