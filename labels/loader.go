package labels

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// fieldsPerObject is the column count of one label line:
// class, x_center, y_center, width, height.
const fieldsPerObject = 5

// Parse reads label lines from r and returns the objects in file order.
//
// Blank lines and '#' comment lines are skipped. Any other line must
// contain exactly five numeric fields; the class column must be a
// non-negative integer. A sample with a single object still yields a
// one-element slice, and a sample with no objects yields an empty one.
//
// Returns:
// - []Object: Parsed objects, in the order they appear in the source.
// - error: A *FormatError on the first malformed line, or a read error.
func Parse(r io.Reader) ([]Object, error) {
	var objs []Object

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		obj, err := parseLine(line, text)
		if err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading labels")
	}

	return objs, nil
}

func parseLine(line int, text string) (Object, error) {
	fields := strings.Fields(text)
	if len(fields) != fieldsPerObject {
		return Object{}, &FormatError{
			Line:   line,
			Reason: "expected 5 fields (class x y w h), got " + strconv.Itoa(len(fields)),
		}
	}

	vals := make([]float64, fieldsPerObject)
	for i, field := range fields {
		v, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return Object{}, &FormatError{
				Line:   line,
				Reason: "field " + strconv.Itoa(i+1) + " is not numeric: " + strconv.Quote(field),
				cause:  err,
			}
		}
		vals[i] = v
	}

	cls := vals[0]
	if cls < 0 || cls != float64(int(cls)) {
		return Object{}, &FormatError{
			Line:   line,
			Reason: "class must be a non-negative integer, got " + fields[0],
		}
	}

	return Object{
		Class: int(cls),
		X:     float32(vals[1]),
		Y:     float32(vals[2]),
		W:     float32(vals[3]),
		H:     float32(vals[4]),
	}, nil
}

// Load reads the label file at path.
func Load(path string) ([]Object, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening label file")
	}
	defer f.Close()

	objs, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return objs, nil
}

// LoadDirectory reads all .txt label files in dir, keyed by sample id
// (the filename without extension).
//
// Arguments:
// - dir: Directory path containing label files.
//
// Returns:
// - map[string][]Object: Objects per sample id.
// - error: Error if listing or parsing fails.
func LoadDirectory(dir string) (map[string][]Object, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "reading label directory")
	}

	samples := make(map[string][]Object)
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".txt" {
			continue
		}

		id := strings.TrimSuffix(file.Name(), ".txt")
		objs, err := Load(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, err
		}
		samples[id] = objs
	}

	return samples, nil
}
