package buildfile

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"springls/internal/project"
)

type coordinate struct {
	Group    string
	Artifact string
	Version  string
	Test     bool
}

type folder struct {
	Source string
	Output string
	Test   bool
}

type descriptor struct {
	Kind        string
	Name        string
	JavaVersion string
	Folders     []folder
	Deps        []coordinate
}

var mavenLayout = []folder{
	{"src/main/java", "target/classes", false},
	{"src/main/kotlin", "target/classes", false},
	{"src/main/resources", "target/classes", false},
	{"src/test/java", "target/test-classes", true},
	{"src/test/kotlin", "target/test-classes", true},
	{"src/test/resources", "target/test-classes", true},
}

var gradleLayout = []folder{
	{"src/main/java", "build/classes/java/main", false},
	{"src/main/kotlin", "build/classes/kotlin/main", false},
	{"src/main/resources", "build/resources/main", false},
	{"src/test/java", "build/classes/java/test", true},
	{"src/test/kotlin", "build/classes/kotlin/test", true},
	{"src/test/resources", "build/resources/test", true},
}

type pomProject struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
	Name       string `xml:"name"`
	Parent     struct {
		GroupID string `xml:"groupId"`
		Version string `xml:"version"`
	} `xml:"parent"`
	Properties struct {
		Entries []struct {
			XMLName xml.Name
			Value   string `xml:",chardata"`
		} `xml:",any"`
	} `xml:"properties"`
	Dependencies []struct {
		GroupID    string `xml:"groupId"`
		ArtifactID string `xml:"artifactId"`
		Version    string `xml:"version"`
		Scope      string `xml:"scope"`
	} `xml:"dependencies>dependency"`
}

var propertyRef = regexp.MustCompile(`\$\{([^}]+)\}`)

func parsePOM(data []byte) (descriptor, error) {
	var pom pomProject
	if err := xml.Unmarshal(data, &pom); err != nil {
		return descriptor{}, fmt.Errorf("%w: %v", ErrInvalidBuildFile, err)
	}

	props := map[string]string{}
	for _, e := range pom.Properties.Entries {
		props[e.XMLName.Local] = strings.TrimSpace(e.Value)
	}
	version := pom.Version
	if version == "" {
		version = pom.Parent.Version
	}
	group := pom.GroupID
	if group == "" {
		group = pom.Parent.GroupID
	}
	props["project.version"] = version
	props["project.groupId"] = group
	props["project.parent.version"] = pom.Parent.Version
	expand := func(s string) string {
		return propertyRef.ReplaceAllStringFunc(strings.TrimSpace(s), func(ref string) string {
			if v, ok := props[ref[2:len(ref)-1]]; ok {
				return v
			}
			return ref
		})
	}

	d := descriptor{
		Kind:    "maven",
		Name:    pom.ArtifactID,
		Folders: mavenLayout,
	}
	for _, key := range []string{"maven.compiler.release", "maven.compiler.source", "java.version"} {
		if v := expand(props[key]); v != "" {
			d.JavaVersion = v
			break
		}
	}
	for _, dep := range pom.Dependencies {
		d.Deps = append(d.Deps, coordinate{
			Group:    expand(dep.GroupID),
			Artifact: expand(dep.ArtifactID),
			Version:  expand(dep.Version),
			Test:     dep.Scope == "test",
		})
	}
	return d, nil
}

var (
	gradleDependency = regexp.MustCompile(
		`(?m)^\s*(implementation|api|compileOnly|runtimeOnly|testImplementation|testRuntimeOnly|developmentOnly)\s*\(?\s*["']([^:"'\s]+):([^:"'\s]+)(?::([^"'\s]+))?["']`)
	gradleToolchain     = regexp.MustCompile(`JavaLanguageVersion\.of\(\s*["']?(\d+)`)
	gradleCompatibility = regexp.MustCompile(`sourceCompatibility\s*=\s*(?:JavaVersion\.VERSION_)?["']?([\d_.]+)`)
)

func parseGradle(fileName string, data []byte) descriptor {
	text := string(data)
	d := descriptor{Kind: "gradle", Folders: gradleLayout}
	if strings.HasSuffix(fileName, ".kts") {
		d.Kind = "gradle-kotlin"
	}
	if m := gradleToolchain.FindStringSubmatch(text); m != nil {
		d.JavaVersion = m[1]
	} else if m := gradleCompatibility.FindStringSubmatch(text); m != nil {
		d.JavaVersion = strings.TrimPrefix(strings.ReplaceAll(m[1], "_", "."), "1.")
	}
	for _, m := range gradleDependency.FindAllStringSubmatch(text, -1) {
		d.Deps = append(d.Deps, coordinate{
			Group:    m[2],
			Artifact: m[3],
			Version:  m[4],
			Test:     strings.HasPrefix(m[1], "test"),
		})
	}
	return d
}

// event builds the classpath event for the project rooted at dir. Only
// source folders that exist are listed; dependencies are included when the
// local repository holds their jar.
func (d descriptor) event(dir, buildFile, repository string) project.ClasspathEvent {
	data := &project.ClasspathData{JavaVersion: d.JavaVersion}
	for _, f := range d.Folders {
		src := filepath.Join(dir, filepath.FromSlash(f.Source))
		if info, err := os.Stat(src); err != nil || !info.IsDir() {
			continue
		}
		data.Entries = append(data.Entries, project.EntryData{
			Kind:         "source",
			Path:         src,
			OutputFolder: filepath.Join(dir, filepath.FromSlash(f.Output)),
			Test:         f.Test,
			Own:          true,
		})
	}

	for _, dep := range d.Deps {
		jar, sources, ok := resolve(repository, dep)
		if !ok {
			log.Debugf("%s:%s not in local repository", dep.Group, dep.Artifact)
			continue
		}
		data.Entries = append(data.Entries, project.EntryData{
			Kind:             "binary",
			Path:             jar,
			SourceAttachment: sources,
			Test:             dep.Test,
		})
	}

	jars, _ := filepath.Glob(filepath.Join(dir, "lib", "*.jar"))
	sort.Strings(jars)
	for _, jar := range jars {
		data.Entries = append(data.Entries, project.EntryData{Kind: "binary", Path: jar})
	}

	name := d.Name
	if name == "" {
		name = filepath.Base(dir)
	}
	return project.ClasspathEvent{
		Location:  dir,
		Name:      name,
		Classpath: data,
		BuildInfo: &project.BuildInfo{Kind: d.Kind, BuildFile: project.PathToURI(buildFile)},
	}
}

// resolve locates a dependency jar in a Maven layout repository. Without a
// version the highest installed one is used.
func resolve(repository string, c coordinate) (jar, sources string, ok bool) {
	if repository == "" || c.Group == "" || c.Artifact == "" {
		return "", "", false
	}
	base := filepath.Join(append([]string{repository}, strings.Split(c.Group, ".")...)...)
	base = filepath.Join(base, c.Artifact)

	version := c.Version
	if version == "" || strings.Contains(version, "${") {
		entries, err := os.ReadDir(base)
		if err != nil {
			return "", "", false
		}
		var versions []string
		for _, e := range entries {
			if e.IsDir() {
				versions = append(versions, e.Name())
			}
		}
		if len(versions) == 0 {
			return "", "", false
		}
		slices.SortFunc(versions, compareVersions)
		version = versions[len(versions)-1]
	}

	stem := filepath.Join(base, version, c.Artifact+"-"+version)
	if _, err := os.Stat(stem + ".jar"); err != nil {
		return "", "", false
	}
	if _, err := os.Stat(stem + "-sources.jar"); err == nil {
		sources = stem + "-sources.jar"
	}
	return stem + ".jar", sources, true
}

// compareVersions orders dotted versions numerically where possible.
func compareVersions(a, b string) int {
	as, bs := strings.FieldsFunc(a, isVersionSep), strings.FieldsFunc(b, isVersionSep)
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		var an, bn int
		_, aerr := fmt.Sscanf(as[i], "%d", &an)
		_, berr := fmt.Sscanf(bs[i], "%d", &bn)
		if aerr == nil && berr == nil && an != bn {
			return an - bn
		}
		return strings.Compare(as[i], bs[i])
	}
	return len(as) - len(bs)
}

func isVersionSep(r rune) bool { return r == '.' || r == '-' }
