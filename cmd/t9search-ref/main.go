// Command t9search-ref is a reference contact search used to exercise the
// harness end to end.
//
// It reads name and number line pairs from stdin and prints the contacts
// whose number or T9-encoded name contains the digit query given as the only
// argument. With T9SEARCH_MATCH=noncontiguous the query digits only need to
// appear in order, not adjacently.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	foundMarker    = "Kontakt(y) nalezen(y)"
	notFoundMarker = "Not found"
	matchEnv       = "T9SEARCH_MATCH"
)

// keypad maps lowercase letters and '+' to their key digit.
var keypad = func() map[rune]byte {
	m := map[rune]byte{'+': '0'}
	for digit, letters := range []string{2: "abc", 3: "def", 4: "ghi", 5: "jkl", 6: "mno", 7: "pqrs", 8: "tuv", 9: "wxyz"} {
		for _, r := range letters {
			m[r] = byte('0' + digit)
		}
	}
	return m
}()

type contact struct {
	name   string
	number string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Getenv(matchEnv) == "noncontiguous"))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, noncontiguous bool) int {
	query := ""
	switch len(args) {
	case 0:
	case 1:
		query = args[0]
	default:
		fmt.Fprintln(stdout, notFoundMarker)
		fmt.Fprintln(stderr, "usage: t9search-ref [digits]")
		return 1
	}
	if strings.Trim(query, "0123456789") != "" {
		fmt.Fprintln(stdout, notFoundMarker)
		fmt.Fprintf(stderr, "invalid query %q: only digits are allowed\n", query)
		return 1
	}

	contacts, err := readContacts(stdin)
	if err != nil {
		fmt.Fprintln(stdout, notFoundMarker)
		fmt.Fprintf(stderr, "read contacts: %v\n", err)
		return 1
	}

	match := strings.Contains
	if noncontiguous {
		match = subsequence
	}
	var found []contact
	for _, c := range contacts {
		if match(c.number, query) || match(encode(c.name), query) {
			found = append(found, c)
		}
	}

	w := bufio.NewWriter(stdout)
	if len(found) == 0 {
		fmt.Fprintln(w, notFoundMarker)
	} else {
		fmt.Fprintln(w, foundMarker)
		for _, c := range found {
			fmt.Fprintf(w, "%s, %s\n", c.name, c.number)
		}
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(stderr, "write results: %v\n", err)
		return 1
	}
	return 0
}

// readContacts reads name and number line pairs. A trailing name without a
// number is ignored.
func readContacts(r io.Reader) ([]contact, error) {
	var out []contact
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		name := strings.ToLower(strings.TrimRight(sc.Text(), "\r"))
		if !sc.Scan() {
			break
		}
		number := strings.ToLower(strings.TrimRight(sc.Text(), "\r"))
		out = append(out, contact{name: name, number: number})
	}
	return out, sc.Err()
}

// encode replaces every letter with its key digit. Other characters become
// '_' so they never match a query digit.
func encode(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if d, ok := keypad[r]; ok {
			b.WriteByte(d)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

func subsequence(s, sub string) bool {
	i := 0
	for j := 0; j < len(s) && i < len(sub); j++ {
		if s[j] == sub[i] {
			i++
		}
	}
	return i == len(sub)
}
