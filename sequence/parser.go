package sequence

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrMalformedCommand indicates a script token that matches no command form.
	ErrMalformedCommand = errors.New("sequence: malformed command")

	// ErrUnknownRelayToken indicates a non-numeric relay token that is not a
	// registered alias.
	ErrUnknownRelayToken = errors.New("sequence: unknown relay token")

	// ErrRelayOutOfRange indicates a numeric relay token outside [1, 16].
	ErrRelayOutOfRange = errors.New("sequence: relay id out of range [1, 16]")
)

// AliasResolver resolves a relay alias name to a relay ID.
// *relay.Session satisfies it.
type AliasResolver interface {
	ResolveAlias(name string) (int, error)
}

var (
	relayPattern = regexp.MustCompile(`(?i)^R([A-Z0-9_]+):(ON|OFF)$`)
	delayPattern = regexp.MustCompile(`(?i)^D([0-9]+)$`)
	resetPattern = regexp.MustCompile(`(?i)^I$`)
)

// Parse parses a whole script into its steps, fail-fast: the first invalid
// command aborts the parse and nothing executes.
//
// Tokens are split on commas and whitespace; empty tokens are skipped.
// Relay targets are resolved here: a token that parses as an integer
// addresses that relay directly and must fall in [1, 16], anything else is
// looked up through aliases (which may be nil when no alias table is
// configured).
func Parse(script string, aliases AliasResolver) ([]Step, error) {
	tokens := strings.FieldsFunc(script, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})

	steps := make([]Step, 0, len(tokens))
	for _, token := range tokens {
		step, err := parseToken(token, aliases)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	return steps, nil
}

func parseToken(token string, aliases AliasResolver) (Step, error) {
	if m := relayPattern.FindStringSubmatch(token); m != nil {
		id, err := resolveRelayTarget(m[1], aliases)
		if err != nil {
			return nil, err
		}

		return RelayStep{Relay: id, On: strings.EqualFold(m[2], "ON")}, nil
	}

	if m := delayPattern.FindStringSubmatch(token); m != nil {
		millis, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedCommand, token)
		}

		return DelayStep{Duration: time.Duration(millis) * time.Millisecond}, nil
	}

	if resetPattern.MatchString(token) {
		return ResetStep{}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrMalformedCommand, token)
}

// resolveRelayTarget maps a relay token to a relay ID. Integer tokens
// address the relay directly and must fall in [1, 16]; everything else
// goes through the alias table.
func resolveRelayTarget(target string, aliases AliasResolver) (int, error) {
	if id, err := strconv.Atoi(target); err == nil {
		if id < 1 || id > 16 {
			return 0, fmt.Errorf("%w: %d", ErrRelayOutOfRange, id)
		}

		return id, nil
	}

	if aliases != nil {
		if id, err := aliases.ResolveAlias(target); err == nil {
			return id, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownRelayToken, target)
}
