package scheduler

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/srand/jolt/coordinator/pkg/protocol"
	"github.com/srand/jolt/coordinator/pkg/utils"
)

// Buildset properties with this prefix are platform requirements.
// E.g. the property "platform.node.os=linux" requires "node.os=linux".
const PlatformPropertyPrefix = "platform."

// A set of properties describing what an agent provides,
// or what a builder or request requires.
type Platform struct {
	Properties []protocol.Property
}

func NewPlatform() *Platform {
	return &Platform{
		Properties: []protocol.Property{},
	}
}

// ParsePlatform creates a platform from a list of "key=value" strings.
func ParsePlatform(properties []string) (*Platform, error) {
	p := NewPlatform()

	for _, config := range properties {
		key, value, ok := strings.Cut(config, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%w: invalid platform property: %s", utils.ErrParse, config)
		}
		p.AddProperty(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	return p, nil
}

// Returns the platform requirements found among buildset properties.
func PlatformFromProperties(properties map[string]string) *Platform {
	p := NewPlatform()

	keys := make([]string, 0, len(properties))
	for key := range properties {
		if strings.HasPrefix(key, PlatformPropertyPrefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		p.AddProperty(strings.TrimPrefix(key, PlatformPropertyPrefix), properties[key])
	}
	return p
}

func (p *Platform) AddProperty(key, value string) {
	p.Properties = append(p.Properties, protocol.Property{Key: key, Value: value})
}

// Fulfills checks if the platform fulfills the given requirement.
// A platform fulfills a requirement if all properties of the requirement
// are also present in the platform.
func (p *Platform) Fulfills(requirement *Platform) bool {
	if requirement == nil {
		return true
	}

	d := p.Map()

	for _, property := range requirement.Properties {
		list, ok := d[property.Key]
		if !ok {
			return false
		}

		found := false

		for _, value := range list {
			if value == property.Value {
				found = true
				break
			}
		}

		if !found {
			return false
		}
	}

	return true
}

// Map returns a map of all properties of the platform.
func (p *Platform) Map() map[string][]string {
	d := map[string][]string{}

	for _, property := range p.Properties {
		d[property.Key] = append(d[property.Key], property.Value)
	}

	return d
}

// GetPropertiesForKey returns all values of the given key.
func (p *Platform) GetPropertiesForKey(key string) ([]string, bool) {
	properties, ok := p.Map()[key]
	return properties, ok
}

func (p *Platform) String() string {
	data := bytes.Buffer{}
	for _, prop := range p.Properties {
		fmt.Fprintf(&data, "%s=%s\n", prop.Key, prop.Value)
	}
	return data.String()
}
