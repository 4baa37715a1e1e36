package rtc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/qrave1/LiveClass/internal/domain"
	"github.com/qrave1/LiveClass/internal/usecase"
)

// device - устройство захвата, за которым стоит файл ogg (микрофон) или ivf (камера)
type device struct {
	usecase.Device
	path string
}

// catalog - неизменяемый список устройств, отсортированный по названию
type catalog struct {
	mics    []device
	cameras []device
}

func newCatalog(mics, cameras map[string]string) *catalog {
	return &catalog{
		mics:    toDevices("mic", mics),
		cameras: toDevices("cam", cameras),
	}
}

func toDevices(prefix string, labels map[string]string) []device {
	devices := make([]device, 0, len(labels))

	for label, path := range labels {
		devices = append(devices, device{
			Device: usecase.Device{
				ID:    prefix + "-" + slug(label),
				Label: label,
			},
			path: path,
		})
	}

	slices.SortFunc(devices, func(a, b device) int {
		return strings.Compare(a.Label, b.Label)
	})

	return devices
}

func slug(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), "-")
}

func (c *catalog) listCameras() []usecase.Device {
	out := make([]usecase.Device, 0, len(c.cameras))
	for _, d := range c.cameras {
		out = append(out, d.Device)
	}

	return out
}

func (c *catalog) microphone() (device, error) {
	if len(c.mics) == 0 {
		return device{}, fmt.Errorf("%w: no microphone", domain.ErrMediaInitFailed)
	}

	return c.mics[0], nil
}

// camera ищет устройство по ID. Пустой ID - фронтальная камера, если она есть.
func (c *catalog) camera(id string) (device, error) {
	if len(c.cameras) == 0 {
		return device{}, fmt.Errorf("%w: no camera", domain.ErrMediaInitFailed)
	}

	if id == "" {
		for _, d := range c.cameras {
			label := strings.ToLower(d.Label)
			if strings.Contains(label, "front") || strings.Contains(label, "user") {
				return d, nil
			}
		}

		return c.cameras[0], nil
	}

	for _, d := range c.cameras {
		if d.ID == id {
			return d, nil
		}
	}

	return device{}, fmt.Errorf("%w: unknown camera %q", domain.ErrMediaInitFailed, id)
}

// openDevice открывает файл устройства. Отказ в доступе - это отказ пользователя в разрешении.
func openDevice(d device) (*os.File, error) {
	f, err := os.Open(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("open %s: %w", d.Label, domain.ErrPermissionDenied)
		}

		return nil, fmt.Errorf("%w: open %s: %w", domain.ErrMediaInitFailed, d.Label, err)
	}

	return f, nil
}
