package signs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadsign/pkg/nn"
	"gopkg.in/yaml.v3"
)

// LoadCatalog loads the class table and the sign info table.
// A missing or broken class table is an error, because no detection can be named without it.
// Problems with the sign info table are only logged.
func LoadCatalog(log logs.Log, classFile, signInfoFile string) (*Catalog, error) {
	classes, err := LoadClassTable(classFile)
	if err != nil {
		return nil, err
	}
	c := NewCatalog(classes, LoadSignInfo(log, signInfoFile))
	if c.NumClasses() == 0 {
		log.Warnf("Class table %v has no classes. All detections will use synthesized codes", classFile)
	}
	log.Infof("Loaded sign catalog: %v", c)
	return c, nil
}

// LoadClassTable reads the class index -> code table.
// Files ending in .txt have one class per line (line number is the class index).
// Anything else is parsed as YAML, with a 'names' field that is either a list,
// or a mapping from integer index to name (this is the layout of a YOLO data.yaml).
func LoadClassTable(filename string) (map[int]string, error) {
	if strings.EqualFold(filepath.Ext(filename), ".txt") {
		list, err := nn.LoadClassFile(filename)
		if err != nil {
			return nil, fmt.Errorf("Failed to read class file %v: %w", filename, err)
		}
		return listToClassTable(list), nil
	}

	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Failed to read class table %v: %w", filename, err)
	}
	classes, err := ParseClassTableYAML(raw)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse class table %v: %w", filename, err)
	}
	return classes, nil
}

// ParseClassTableYAML parses the 'names' field of a YOLO data.yaml document
func ParseClassTableYAML(raw []byte) (map[int]string, error) {
	var doc struct {
		Names yaml.Node `yaml:"names"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	names := &doc.Names
	switch names.Kind {
	case 0:
		// 'names' is absent
		return map[int]string{}, nil
	case yaml.SequenceNode:
		list := make([]string, 0, len(names.Content))
		for _, item := range names.Content {
			list = append(list, item.Value)
		}
		return listToClassTable(list), nil
	case yaml.MappingNode:
		classes := map[int]string{}
		for i := 0; i+1 < len(names.Content); i += 2 {
			key := names.Content[i]
			val := names.Content[i+1]
			idx, err := strconv.Atoi(strings.TrimSpace(key.Value))
			if err != nil {
				return nil, fmt.Errorf("line %v: class index '%v' is not an integer", key.Line, key.Value)
			}
			classes[idx] = val.Value
		}
		return classes, nil
	default:
		return nil, fmt.Errorf("line %v: 'names' must be a list or a mapping", names.Line)
	}
}

func listToClassTable(list []string) map[int]string {
	classes := make(map[int]string, len(list))
	for i, name := range list {
		classes[i] = name
	}
	return classes
}

// LoadSignInfo reads the pipe-delimited sign description file:
//
//	# comment
//	P.102 | Cấm đi ngược chiều | Báo đường cấm các loại xe ...
//
// Failures are logged, and whatever could be read is returned (possibly an empty map).
func LoadSignInfo(log logs.Log, filename string) map[string]Info {
	info := map[string]Info{}
	if filename == "" {
		log.Warnf("No sign info file configured")
		return info
	}
	f, err := os.Open(filename)
	if err != nil {
		log.Warnf("Sign info file not available: %v", err)
		return info
	}
	defer f.Close()

	nSkipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		entry, ok, malformed := ParseSignInfoLine(scanner.Text())
		if malformed {
			nSkipped++
			log.Warnf("Skipping malformed line %v in %v", lineNo, filename)
		}
		if ok {
			info[entry.Code] = entry
		}
	}
	if err := scanner.Err(); err != nil {
		log.Errorf("Failed to parse sign info file %v: %v", filename, err)
	}
	log.Infof("Loaded %v sign infos from %v (%v lines skipped)", len(info), filename, nSkipped)
	return info
}

// ParseSignInfoLine parses one line of the sign info file.
// ok is true if the line holds an entry. malformed is true if the line is neither
// an entry, nor blank, nor a comment.
// Fields beyond the third are ignored.
func ParseSignInfoLine(line string) (entry Info, ok bool, malformed bool) {
	line = strings.TrimSpace(strings.TrimPrefix(line, "\ufeff"))
	if line == "" || strings.HasPrefix(line, "#") {
		return Info{}, false, false
	}
	parts := strings.Split(line, "|")
	if len(parts) < 3 {
		return Info{}, false, true
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if parts[0] == "" {
		return Info{}, false, true
	}
	return Info{
		Code:    parts[0],
		Name:    parts[1],
		Meaning: parts[2],
	}, true, false
}
