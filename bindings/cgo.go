package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"context"
	"encoding/json"
	"sync"
	"time"
	"unsafe"

	"github.com/nickyhof/LayerDB"
	"github.com/nickyhof/LayerDB/config"
	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/layered"
	"github.com/nickyhof/LayerDB/op"
)

var (
	mu         sync.Mutex
	handles    = make(map[int]*LayerDB.Instance)
	nextHandle = 1
)

// Response mirrors the server protocol for consistency
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Type    string          `json:"type,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type QueryResponse struct {
	Columns         []string `json:"columns"`
	Data            [][]any  `json:"data"`
	Objects         int      `json:"objects"`
	ExecutionTimeMs float64  `json:"execution_time_ms"`
}

type ImageResponse struct {
	Hash      string    `json:"hash"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Comment   string    `json:"comment,omitempty"`
	Tables    []string  `json:"tables"`
}

type StepResponse struct {
	Command string `json:"command"`
	Image   string `json:"image"`
	Cached  bool   `json:"cached"`
}

type BuildResponse struct {
	RunID   string            `json:"run_id"`
	Steps   []StepResponse    `json:"steps"`
	Outputs map[string]string `json:"outputs"`
}

func register(instance *LayerDB.Instance) C.int {
	mu.Lock()
	defer mu.Unlock()
	handle := nextHandle
	nextHandle++
	handles[handle] = instance
	return C.int(handle)
}

func lookup(handle C.int) (*LayerDB.Instance, bool) {
	mu.Lock()
	defer mu.Unlock()
	instance, ok := handles[int(handle)]
	return instance, ok
}

//export layerdb_open_memory
func layerdb_open_memory() C.int {
	instance, err := LayerDB.OpenMemory(context.Background())
	if err != nil {
		return -1
	}
	return register(instance)
}

// layerdb_open reads the config file at path; an empty path uses the
// default file and environment.
//
//export layerdb_open
func layerdb_open(path *C.char) C.int {
	cfg, err := config.Load(C.GoString(path))
	if err != nil {
		return -1
	}
	instance, err := LayerDB.Open(context.Background(), cfg)
	if err != nil {
		return -1
	}
	return register(instance)
}

//export layerdb_close
func layerdb_close(handle C.int) {
	mu.Lock()
	instance, ok := handles[int(handle)]
	delete(handles, int(handle))
	mu.Unlock()
	if ok {
		_ = instance.Close()
	}
}

// withRepository runs fn against repository repo of handle and encodes its
// result as a Response of type typ.
func withRepository(handle C.int, repo *C.char, typ string, fn func(context.Context, *op.Repository) (any, error)) *C.char {
	instance, ok := lookup(handle)
	if !ok {
		return makeErrorResponse("Invalid handle")
	}
	name, err := core.ParseRepository(C.GoString(repo))
	if err != nil {
		return makeErrorResponse(err.Error())
	}
	result, err := fn(context.Background(), instance.Repository(name))
	if err != nil {
		return makeErrorResponse(err.Error())
	}
	return makeResponse(typ, result)
}

// layerdb_execute runs SQL against the checked out tables of repo.
//
//export layerdb_execute
func layerdb_execute(handle C.int, repo, stmt *C.char) *C.char {
	sql := C.GoString(stmt)
	return withRepository(handle, repo, "execute", func(ctx context.Context, r *op.Repository) (any, error) {
		if err := r.Init(ctx); err != nil {
			return nil, err
		}
		return nil, r.Adapter().RunIn(ctx, r.Schema(), sql)
	})
}

//export layerdb_query
func layerdb_query(handle C.int, repo, table *C.char) *C.char {
	name := C.GoString(table)
	return withRepository(handle, repo, "query", func(ctx context.Context, r *op.Repository) (any, error) {
		start := time.Now()
		res, err := r.Query(ctx, name, layered.Query{})
		if err != nil {
			return nil, err
		}
		return QueryResponse{
			Columns:         res.Columns.Names(),
			Data:            res.Rows,
			Objects:         len(res.Objects),
			ExecutionTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		}, nil
	})
}

//export layerdb_commit
func layerdb_commit(handle C.int, repo, comment *C.char) *C.char {
	msg := C.GoString(comment)
	return withRepository(handle, repo, "commit", func(ctx context.Context, r *op.Repository) (any, error) {
		img, err := r.Commit(ctx, op.WithComment(msg))
		if err != nil {
			return nil, err
		}
		return imageResponse(img), nil
	})
}

//export layerdb_checkout
func layerdb_checkout(handle C.int, repo, ref *C.char) *C.char {
	target := C.GoString(ref)
	return withRepository(handle, repo, "checkout", func(ctx context.Context, r *op.Repository) (any, error) {
		img, err := r.Checkout(ctx, target, op.CheckoutOptions{})
		if err != nil {
			return nil, err
		}
		return imageResponse(img), nil
	})
}

//export layerdb_log
func layerdb_log(handle C.int, repo, ref *C.char) *C.char {
	from := C.GoString(ref)
	if from == "" {
		from = core.TagHead
	}
	return withRepository(handle, repo, "log", func(ctx context.Context, r *op.Repository) (any, error) {
		images, err := r.Log(ctx, from)
		if err != nil {
			return nil, err
		}
		out := make([]ImageResponse, 0, len(images))
		for _, img := range images {
			out = append(out, imageResponse(img))
		}
		return out, nil
	})
}

// layerdb_build runs a build script. params is a JSON object of strings or
// NULL.
//
//export layerdb_build
func layerdb_build(handle C.int, script, params, output *C.char) *C.char {
	instance, ok := lookup(handle)
	if !ok {
		return makeErrorResponse("Invalid handle")
	}
	var values map[string]string
	if params != nil {
		if err := json.Unmarshal([]byte(C.GoString(params)), &values); err != nil {
			return makeErrorResponse("invalid params: " + err.Error())
		}
	}
	var out core.RepositoryName
	if s := C.GoString(output); s != "" {
		var err error
		if out, err = core.ParseRepository(s); err != nil {
			return makeErrorResponse(err.Error())
		}
	}

	res, err := instance.Executor().Run(context.Background(), C.GoString(script), values, out)
	if err != nil {
		return makeErrorResponse(err.Error())
	}
	br := BuildResponse{RunID: res.RunID, Outputs: res.Outputs}
	for _, step := range res.Steps {
		br.Steps = append(br.Steps, StepResponse{Command: step.Command, Image: step.Image, Cached: step.Cached})
	}
	return makeResponse("build", br)
}

//export layerdb_free
func layerdb_free(ptr *C.char) {
	C.free(unsafe.Pointer(ptr))
}

func imageResponse(img core.Image) ImageResponse {
	return ImageResponse{
		Hash:      img.Hash,
		ParentID:  img.ParentID,
		CreatedAt: img.CreatedAt,
		Comment:   img.Comment,
		Tables:    img.TableNames(),
	}
}

func makeResponse(typ string, result any) *C.char {
	resp := Response{Success: true, Type: typ}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return makeErrorResponse(err.Error())
		}
		resp.Result = data
	}
	jsonData, _ := json.Marshal(resp)
	return C.CString(string(jsonData))
}

func makeErrorResponse(msg string) *C.char {
	resp := Response{
		Success: false,
		Error:   msg,
	}
	jsonData, _ := json.Marshal(resp)
	return C.CString(string(jsonData))
}

func main() {}
