// Package ascii stages source files whose names the fingerprinting tool
// cannot take verbatim.
package ascii

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/himanishpuri/audfprint-gui/pkg/utils"
)

// Is reports whether s is plain 7-bit ASCII.
func Is(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// Transliterate strips diacritics ("Beyoncé" -> "Beyonce") and replaces
// every remaining non-ASCII rune with '_'.
func Transliterate(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return '_'
		}
		return r
	}, out)
}

// Stage returns src unchanged when its path is ASCII. Otherwise it copies
// src into dir under its transliterated base name, replacing an earlier
// copy, and returns the copy. The caller removes the copy once the tool
// has read it.
func Stage(dir, src string) (string, error) {
	if Is(src) {
		return src, nil
	}
	if err := utils.MakeDir(dir); err != nil {
		return "", fmt.Errorf("creating staging dir: %w", err)
	}
	dst := filepath.Join(dir, Transliterate(filepath.Base(src)))
	if err := utils.CopyFile(src, dst); err != nil {
		return "", fmt.Errorf("staging %s: %w", src, err)
	}
	return dst, nil
}
