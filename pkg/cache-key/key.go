// Package cachekey builds the string keys entries are stored under.
//
// A key has the form
//
//	origin:METHOD:/path\t
//
// followed by one line per varied value, sorted, each starting with a newline.
// Everything up to and including the tab is the key prefix of a resource,
// so an origin, a method or a path prefix can be purged with a single
// prefix scan.
package cachekey

import (
	"sort"
	"strings"
)

const (
	originSeparator = ":"
	methodSeparator = ":"
	varySeparator   = "\t"
)

// Vary axes, used as the first part of a vary line.
const (
	AxisHeader = "h"
	AxisCookie = "c"
	AxisQuery  = "q"
)

type Keyer struct {
	// Unique identifier for the origin.
	OriginId string
	// Cache key prefix for this origin
	OriginPrefix string
}

func NewKeyer(originId string) Keyer {
	return Keyer{
		OriginId:     originId,
		OriginPrefix: originId + originSeparator,
	}
}

// MethodPrefix gets the key prefix for the origin with the given method.
// E.g. prefix for all GET requests in the cache.
func (c Keyer) MethodPrefix(method string) string {
	return c.OriginPrefix + strings.ToUpper(method) + methodSeparator
}

// PathPrefix returns the prefix shared by every key whose path starts with pathPrefix.
func (c Keyer) PathPrefix(method, pathPrefix string) string {
	return c.MethodPrefix(method) + pathPrefix
}

// ResourcePrefix returns the key of a resource without any vary lines.
// It is the prefix of every variant of that resource.
func (c Keyer) ResourcePrefix(method, path string) string {
	return c.PathPrefix(method, path) + varySeparator
}

// Builder collects the vary lines of one key.
type Builder struct {
	prefix string
	lines  []string
}

func (c Keyer) Builder(method, path string) *Builder {
	return &Builder{prefix: c.ResourcePrefix(method, path)}
}

// Add adds a vary line for the given axis.
func (b *Builder) Add(axis, name, value string) *Builder {
	b.lines = append(b.lines, axis+":"+name+": "+value)
	return b
}

// String returns the complete key with the vary lines in sorted order,
// so that the order values were added in does not matter.
func (b *Builder) String() string {
	if len(b.lines) == 0 {
		return b.prefix
	}
	lines := append([]string(nil), b.lines...)
	sort.Strings(lines)
	return b.prefix + "\n" + strings.Join(lines, "\n")
}

// Resource splits a key into its origin, method and path.
// It returns false if the key was not built by a Keyer.
func Resource(key string) (origin, method, path string, ok bool) {
	origin, rest, found := strings.Cut(key, originSeparator)
	if !found {
		return "", "", "", false
	}
	method, rest, found = strings.Cut(rest, methodSeparator)
	if !found {
		return "", "", "", false
	}
	path, _, found = strings.Cut(rest, varySeparator)
	if !found {
		return "", "", "", false
	}
	return origin, method, path, true
}
