package viz

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
)

type ImageContainer struct {
	name string
	data []byte
}

func (i *ImageContainer) Name() string {
	return i.name
}

func (i *ImageContainer) Data() []byte {
	return i.data
}

type Producer interface {
	Name() string
	GetImage() *ImageContainer
	AddPlotOption(opt PlotOptions)
}

type Server struct {
	images          map[string]map[string]*ImageContainer
	mu              sync.RWMutex
	port            int
	srv             *http.Server
	router          *httprouter.Router
	routesOnce      sync.Once
	producerBuckets map[string]map[string]Producer
	updateInterval  time.Duration
	enabled         bool
	lastViewed      map[string]time.Time
}

func NewServer(port int, updateInterval time.Duration) *Server {
	if updateInterval <= 0 {
		updateInterval = 500 * time.Millisecond
	}
	return &Server{
		images:          make(map[string]map[string]*ImageContainer),
		producerBuckets: make(map[string]map[string]Producer),
		port:            port,
		lastViewed:      make(map[string]time.Time),
		srv:             &http.Server{Addr: fmt.Sprintf(":%d", port)},
		router:          httprouter.New(),
		updateInterval:  updateInterval,
		enabled:         true,
	}
}

func (s *Server) Enable(enable bool) {
	s.mu.Lock()
	s.enabled = enable
	s.mu.Unlock()
}

func (s *Server) SetUpdateInterval(interval time.Duration) {
	s.mu.Lock()
	s.updateInterval = interval
	s.mu.Unlock()
}

func (s *Server) Register(key string, p Producer) {
	s.mu.Lock()
	bucket, ok := s.producerBuckets[key]
	if !ok {
		bucket = make(map[string]Producer)
		s.producerBuckets[key] = bucket
	}
	bucket[p.Name()] = p
	s.mu.Unlock()

}

// Producers lists the producer names registered in a bucket.
func (s *Server) Producers(bucket string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]string, 0, len(s.producerBuckets[bucket]))
	for name := range s.producerBuckets[bucket] {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// Handle mounts an additional route next to the viz pages. Routes must be
// added before Run or Handler is called.
func (s *Server) Handle(method, path string, handle httprouter.Handle) {
	s.router.Handle(method, path, handle)
}

func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

// Refresh renders every producer of the buckets viewed within the last
// second, or of all buckets when force is set.
func (s *Server) Refresh(force bool) {
	s.mu.RLock()
	if !s.enabled {
		s.mu.RUnlock()
		return
	}
	type job struct {
		bucket string
		p      Producer
	}
	var jobs []job
	for bucketName, bucket := range s.producerBuckets {
		if !force && time.Since(s.lastViewed[bucketName]) >= time.Second {
			continue
		}
		for _, producer := range bucket {
			jobs = append(jobs, job{bucket: bucketName, p: producer})
		}
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(bucket string, p Producer) {
			defer wg.Done()

			img := p.GetImage()
			if img == nil {
				return
			}

			s.mu.Lock()
			mb, ok := s.images[bucket]
			if !ok {
				mb = make(map[string]*ImageContainer)
				s.images[bucket] = mb
			}
			mb[img.name] = img
			s.mu.Unlock()
		}(j.bucket, j.p)
	}
	wg.Wait()
}

// Image returns the last rendered image of a producer.
func (s *Server) Image(bucket, name string) (*ImageContainer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[bucket][name]
	return img, ok
}

func (s *Server) Run(ctx context.Context) error {

	go func() {
		for {
			s.mu.RLock()
			interval := s.updateInterval
			s.mu.RUnlock()

			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
				s.Refresh(false)
			}
		}
	}()

	s.srv.Handler = s.Handler()

	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.addRoutes)
	return s.router
}

func (s *Server) addRoutes() {
	handler := s.router

	handler.GET("/", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.mu.RLock()
		keys := make([]string, 0, len(s.producerBuckets))
		for name := range s.producerBuckets {
			keys = append(keys, name)
		}
		s.mu.RUnlock()
		if len(keys) == 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		sort.Strings(keys)

		w.Header().Set("Location", "/view/"+url.PathEscape(keys[0]))
		w.WriteHeader(http.StatusFound)
	})

	handler.GET("/view/:bucket", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		bucket := params.ByName("bucket")

		s.mu.Lock()
		itemsForBucket, ok := s.producerBuckets[bucket]
		if ok {
			s.lastViewed[bucket] = time.Now()
		}
		interval := s.updateInterval
		s.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		s.mu.RLock()
		defer s.mu.RUnlock()

		bucketKeys := make([]string, 0, len(s.producerBuckets))
		for key := range s.producerBuckets {
			bucketKeys = append(bucketKeys, key)
		}
		sort.Strings(bucketKeys)

		keys := make([]string, 0, len(itemsForBucket))
		for key := range itemsForBucket {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		w.Header().Add("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Lightspeed</title></head>`))

		w.Write([]byte(fmt.Sprintf(`
		<script type="text/javascript">
			var toggleRefresh = true;
			function toggleOn() {
				toggleRefresh = !toggleRefresh;
			}

			function changeBucket() {
				var val = document.getElementById('bucketSelector').value;
				window.location.href = '/view/' + val;
			}
			window.onload = function() {
				for (var i = 0; i < %d; i++) {
					var img = document.getElementById('graph-' + i);
					setInterval(function(image) {
						if (toggleRefresh) {
							image.src = image.src.split("?")[0] + "?" + new Date().getTime();
						}
					}, %d, img);
				}

			}
		</script>`, len(keys), interval.Milliseconds())))
		w.Write([]byte(`<body style='background-color: black'>`))

		w.Write([]byte(`<select id="bucketSelector" onchange="changeBucket()">`))
		for _, bucketName := range bucketKeys {
			selected := ""
			if bucketName == bucket {
				selected = " selected"
			}
			w.Write([]byte(fmt.Sprintf(`<option value="%s"%s>%s</option>`, bucketName, selected, bucketName)))
		}
		w.Write([]byte(`</select>`))
		w.Write([]byte(`<button onclick="toggleOn()">Refresh?</button>`))

		w.Write([]byte(`<div style="display: flex; flex-direction: row; flex-wrap: wrap">`))
		for idx, key := range keys {
			w.Write([]byte(fmt.Sprintf(`<div><img id="graph-%d" 
			src="/img/%s/%s?%d" /></div>`, idx, url.PathEscape(bucket), url.PathEscape(key), time.Now().UnixNano()/1000)))
		}
		w.Write([]byte(`</div>`))

		w.Write([]byte(`</body></html>`))
	})

	handler.GET("/img/:bucket/:img", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		bucketName := params.ByName("bucket")

		s.mu.Lock()
		s.lastViewed[bucketName] = time.Now()
		s.mu.Unlock()

		img, ok := s.Image(bucketName, params.ByName("img"))
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Add("Content-Type", "image/png")
		w.Write(img.data)
	})
}
