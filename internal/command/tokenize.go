package command

import (
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`"([^"\\]|\\.)*"|'([^'\\]|\\.)*'|\S+`)

// Tokenize splits input on whitespace, keeping quoted runs together. A token
// wrapped in matching quotes is unquoted.
func Tokenize(input string) []string {
	matches := tokenPattern.FindAllString(input, -1)
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, unquote(m))
	}
	return tokens
}

func unquote(token string) string {
	for _, q := range []string{`"`, `'`} {
		if strings.HasPrefix(token, q) && strings.HasSuffix(token, q) {
			if len(token) < 2 {
				return ""
			}
			return token[1 : len(token)-1]
		}
	}
	return token
}

// Input is parsed command input.
type Input struct {
	ID   string
	Args []string
	// ArgsText is Args joined by single spaces.
	ArgsText string
}

// Parse reads command input. Slash input always parses; a bare "/" becomes
// help. Input without a leading slash parses only when allowBare is set.
func Parse(input string, allowBare bool) (Input, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Input{}, false
	}

	if rest, ok := strings.CutPrefix(trimmed, "/"); ok {
		tokens := Tokenize(rest)
		if len(tokens) == 0 || tokens[0] == "" {
			return Input{ID: "help", Args: []string{}}, true
		}
		return newInput(tokens), true
	}

	if !allowBare {
		return Input{}, false
	}
	tokens := Tokenize(trimmed)
	if len(tokens) == 0 || tokens[0] == "" {
		return Input{}, false
	}
	return newInput(tokens), true
}

func newInput(tokens []string) Input {
	args := append([]string{}, tokens[1:]...)
	return Input{
		ID:       strings.ToLower(tokens[0]),
		Args:     args,
		ArgsText: strings.Join(args, " "),
	}
}
