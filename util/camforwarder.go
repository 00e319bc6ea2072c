package util

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

// CamForwarder polls camera snapshot URLs and republishes the JPEGs on the
// camera's MQTT topic, where the security bridge picks them up.
type CamForwarder struct {
	Cameras   []CamForwarderCamera `mapstructure:"cameras"`
	Frequency int64                `mapstructure:"frequency"`
	Workers   int64                `mapstructure:"workers"`
	Enabled   bool                 `mapstructure:"enabled"`

	queue  chan CamForwarderCamera
	ticker *time.Ticker
	cancel context.CancelFunc
	wg     sync.WaitGroup
	client func() MQTT.Client
	http   *http.Client
}

type CamForwarderCamera struct {
	Url   string `mapstructure:"snap_url"`
	Topic string `mapstructure:"topic"`
}

// MakeCamForwarder loads the cam_forwarder config block and starts the
// workers. Publishing goes through whatever client returns at that time.
func (cf *CamForwarder) MakeCamForwarder(client func() MQTT.Client) {
	if err := Config.UnmarshalKey("cam_forwarder", cf); err != nil {
		Logger.Error().Msgf("Error loading cam_forwarder config: %v", err)
	}
	if cf.Workers < 1 {
		cf.Workers = 1
	}
	if cf.Frequency < 1 {
		cf.Frequency = 5
	}
	cf.client = client
	if cf.http == nil {
		cf.http = &http.Client{Timeout: 10 * time.Second}
	}
	cf.queue = make(chan CamForwarderCamera, cf.Workers*4)
	for i := 0; i < int(cf.Workers); i++ {
		cf.wg.Add(1)
		go cf.worker()
	}
}

func (cf *CamForwarder) Start() {
	if !cf.Enabled {
		Logger.Debug().Msg("cam forwarder disabled")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	cf.cancel = cancel
	cf.ticker = time.NewTicker(time.Duration(cf.Frequency) * time.Second)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-cf.ticker.C:
				for _, c := range cf.Cameras {
					select {
					case cf.queue <- c:
					default:
						Logger.Warn().Msgf("cam forwarder queue full, skipping %v", c.Url)
					}
				}
			}
		}
	}()
}

// Stop halts the ticker and waits for the workers to drain the queue.
func (cf *CamForwarder) Stop() {
	if cf.cancel != nil {
		cf.cancel()
	}
	if cf.ticker != nil {
		cf.ticker.Stop()
	}
	if cf.queue != nil {
		close(cf.queue)
		cf.wg.Wait()
		cf.queue = nil
	}
}

func (cf *CamForwarder) worker() {
	defer cf.wg.Done()
	for job := range cf.queue {
		cf.processJob(job)
	}
}

func (cf *CamForwarder) processJob(job CamForwarderCamera) {
	req, err := http.NewRequest(http.MethodGet, job.Url, nil)
	if err != nil {
		Logger.Warn().Msgf("Unable to get pic from %v: %v", job.Url, err.Error())
		return
	}
	req.Header.Set("Accept", "*/*")
	resp, err := cf.http.Do(req)
	if err != nil {
		Logger.Warn().Msgf("Unable to get pic from %v: %v", job.Url, err.Error())
		return
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			Logger.Error().Msgf("Error closing response body: %v", closeErr)
		}
	}()
	if resp.StatusCode > 299 || resp.StatusCode < 200 {
		Logger.Warn().Msgf("non-2xx code received from camera: %d", resp.StatusCode)
		return
	}
	if resp.Header.Get("Content-Type") != "image/jpeg" {
		Logger.Warn().Msgf("Invalid image mimetype for %v: %v", job.Url, resp.Header.Get("Content-Type"))
		return
	}
	img, err := io.ReadAll(resp.Body)
	if err != nil {
		Logger.Warn().Msgf("Error reading image data from %v: %v", job.Url, err)
		return
	}
	client := cf.client()
	if client == nil {
		Logger.Warn().Msg("no mqtt client, dropping camera frame")
		return
	}
	token := client.Publish(job.Topic, byte(0), false, img)
	token.Wait()
}
