package robots

import (
	"bufio"
	"io"
	"strings"
)

// Rules are the Allow/Disallow prefixes of the group matching one user agent.
type Rules struct {
	Allow    []string
	Disallow []string
}

// Parse collects the Allow and Disallow values of every group whose
// User-agent is "*" or equals userAgent. Consecutive User-agent lines share
// one group. Blank lines and comments are skipped and an empty Disallow is
// dropped because it permits everything.
func Parse(r io.Reader, userAgent string) (Rules, error) {
	var (
		rules   Rules
		inGroup bool
		// inAgents is true while reading the User-agent lines heading a group.
		inAgents bool
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxBodyBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if hash := strings.IndexByte(line, '#'); hash >= 0 {
			line = strings.TrimSpace(line[:hash])
		}
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			matches := value == "*" || (userAgent != "" && strings.EqualFold(value, userAgent))
			if inAgents {
				inGroup = inGroup || matches
			} else {
				inGroup = matches
			}
			inAgents = true
			continue
		}
		inAgents = false
		switch key {
		case "allow":
			if inGroup && value != "" {
				rules.Allow = append(rules.Allow, value)
			}
		case "disallow":
			if inGroup && value != "" {
				rules.Disallow = append(rules.Disallow, value)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// Allowed applies longest-prefix matching; ties favor Allow.
func (r Rules) Allowed(path string) bool {
	if path == "" {
		path = "/"
	}
	return longestPrefix(r.Allow, path) >= longestPrefix(r.Disallow, path)
}

func longestPrefix(prefixes []string, path string) int {
	best := 0
	for _, p := range prefixes {
		if len(p) > best && strings.HasPrefix(path, p) {
			best = len(p)
		}
	}
	return best
}
