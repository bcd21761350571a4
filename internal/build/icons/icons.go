// Package icons renders launcher icons for every Android density and
// places them where each pipeline's native project expects them.
package icons

import (
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"github.com/vibecoding/demo2apk/internal/logging"
)

// Density pairs an Android density qualifier with its launcher icon
// dimension in pixels.
type Density struct {
	Name string
	Size int
}

var shellDensities = []Density{
	{"ldpi", 36},
	{"mdpi", 48},
	{"hdpi", 72},
	{"xhdpi", 96},
	{"xxhdpi", 144},
	{"xxxhdpi", 192},
}

var wrapperDensities = []Density{
	{"mdpi", 48},
	{"hdpi", 72},
	{"xhdpi", 96},
	{"xxhdpi", 144},
	{"xxxhdpi", 192},
}

// Injector renders and installs launcher icons.
type Injector struct {
	log *logging.Logger
}

func NewInjector(log *logging.Logger) *Injector {
	return &Injector{log: log}
}

// InjectShell writes density-scaled icons into a Cordova-style project
// and registers them in config.xml when the project declares none.
func (in *Injector) InjectShell(projectDir, iconPath string) error {
	src, err := loadSource(iconPath)
	if err != nil {
		return err
	}

	resDir := filepath.Join(projectDir, "res", "icon", "android")
	if err := os.MkdirAll(resDir, 0o755); err != nil {
		return fmt.Errorf("failed to create icon directory: %w", err)
	}
	for _, d := range shellDensities {
		if err := writePNG(filepath.Join(resDir, d.Name+".png"), renderIcon(src, d.Size)); err != nil {
			return err
		}
	}
	in.log.Debug().Int("densities", len(shellDensities)).Msg("rendered shell icons")

	return in.registerShellIcons(filepath.Join(projectDir, "config.xml"))
}

// registerShellIcons adds an android platform block with one icon entry
// per density. Projects that already declare icons are left alone.
func (in *Injector) registerShellIcons(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config.xml: %w", err)
	}
	cfg := string(data)
	if strings.Contains(cfg, "<icon") {
		return nil
	}

	var entries strings.Builder
	for _, d := range shellDensities {
		fmt.Fprintf(&entries, "        <icon density=%q src=\"res/icon/android/%s.png\" />\n", d.Name, d.Name)
	}

	if idx := strings.Index(cfg, `<platform name="android">`); idx >= 0 {
		pos := idx + len(`<platform name="android">`)
		cfg = cfg[:pos] + "\n" + entries.String() + cfg[pos:]
	} else if idx := strings.Index(cfg, "</widget>"); idx >= 0 {
		block := "    <platform name=\"android\">\n" + entries.String() + "    </platform>\n"
		cfg = cfg[:idx] + block + cfg[idx:]
	} else {
		return fmt.Errorf("config.xml has no closing widget element")
	}

	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		return fmt.Errorf("failed to write config.xml: %w", err)
	}
	return nil
}

// InjectWrapper overwrites the launcher icons of a generated native
// wrapper project. Both the square and round launcher names are
// replaced, and the adaptive-icon override directory is removed since
// adaptive rendering crops the artwork's edges.
func (in *Injector) InjectWrapper(androidDir, iconPath string) error {
	src, err := loadSource(iconPath)
	if err != nil {
		return err
	}

	resDir := filepath.Join(androidDir, "app", "src", "main", "res")
	for _, d := range wrapperDensities {
		mipmap := filepath.Join(resDir, "mipmap-"+d.Name)
		if err := os.MkdirAll(mipmap, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", mipmap, err)
		}
		icon := renderIcon(src, d.Size)
		for _, name := range []string{"ic_launcher.png", "ic_launcher_round.png"} {
			if err := writePNG(filepath.Join(mipmap, name), icon); err != nil {
				return err
			}
		}
	}

	adaptive := filepath.Join(resDir, "mipmap-anydpi-v26")
	if err := os.RemoveAll(adaptive); err != nil {
		return fmt.Errorf("failed to remove adaptive icon overrides: %w", err)
	}
	in.log.Debug().Int("densities", len(wrapperDensities)).Msg("rendered wrapper icons")
	return nil
}

// loadSource decodes the uploaded icon, or falls back to the bundled
// default when none was provided.
func loadSource(iconPath string) (image.Image, error) {
	if iconPath == "" {
		return defaultIcon(), nil
	}
	f, err := os.Open(iconPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open icon: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode icon: %w", err)
	}
	return img, nil
}

// renderIcon scales the source into a size x size square with a
// "contain" fit: aspect ratio preserved, the remainder transparent.
func renderIcon(src image.Image, size int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))

	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if sw == 0 || sh == 0 {
		return dst
	}
	scale := math.Min(float64(size)/float64(sw), float64(size)/float64(sh))
	w := max(1, int(math.Round(float64(sw)*scale)))
	h := max(1, int(math.Round(float64(sh)*scale)))
	x0 := (size - w) / 2
	y0 := (size - h) / 2

	draw.CatmullRom.Scale(dst, image.Rect(x0, y0, x0+w, y0+h), src, sb, draw.Over, nil)
	return dst
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	err = enc.Encode(f, img)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}

// defaultIcon draws the fallback launcher artwork: a white disc on a
// blue field.
func defaultIcon() image.Image {
	const size = 512
	img := image.NewNRGBA(image.Rect(0, 0, size, size))

	const (
		cx, cy = size / 2, size / 2
		radius = size / 3
	)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := img.PixOffset(x, y)
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= radius*radius {
				img.Pix[i+0] = 0xFF
				img.Pix[i+1] = 0xFF
				img.Pix[i+2] = 0xFF
			} else {
				img.Pix[i+0] = 0x3B
				img.Pix[i+1] = 0x82
				img.Pix[i+2] = 0xF6
			}
			img.Pix[i+3] = 0xFF
		}
	}
	return img
}
