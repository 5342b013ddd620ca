package server

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shepherd-project/corral/internal/api"
	"github.com/shepherd-project/corral/internal/future"
	"github.com/shepherd-project/corral/internal/registry"
	"github.com/shepherd-project/corral/internal/services"
	"github.com/shepherd-project/corral/internal/storage"
	"github.com/shepherd-project/corral/internal/version"
)

// Deploy modes accepted by POST /api/services
const (
	ModeNode     = "node"
	ModeCluster  = "cluster"
	ModeMultiple = "multiple"
	ModeAffinity = "affinity"
	ModeCustom   = "custom"
)

// DeployRequest is the body of POST /api/services
type DeployRequest struct {
	Name        string            `json:"name"`
	Type        string            `json:"type" binding:"required"`
	Mode        string            `json:"mode" binding:"required,oneof=node cluster multiple affinity custom"`
	Params      map[string]string `json:"params"`
	TotalCount  int               `json:"totalCount" binding:"min=0"`
	MaxPerNode  int               `json:"maxPerNode" binding:"min=0"`
	CacheName   string            `json:"cacheName"`
	AffinityKey string            `json:"affinityKey"`
	NodeIDs     []string          `json:"nodeIds" binding:"omitempty,dive,uuid"`
}

// ResolveRequest is the body of POST /api/handle/resolve
type ResolveRequest struct {
	Token string `json:"token" binding:"required"`
}

// InfoResponse describes the local node
type InfoResponse struct {
	Name          string      `json:"name"`
	Version       string      `json:"version"`
	Grid          string      `json:"grid"`
	NodeID        string      `json:"nodeId"`
	State         string      `json:"state"`
	ActiveReaders int64       `json:"activeReaders"`
	Nodes         interface{} `json:"nodes"`
	ServiceTypes  []string    `json:"serviceTypes"`
}

// ResolveResponse reports what a decoded handle resolved to
type ResolveResponse struct {
	Grid       string `json:"grid"`
	NodeID     string `json:"nodeId"`
	Canonical  bool   `json:"canonical"`
	Projection string `json:"projection"`
}

func (s *Server) handleInfo(c *gin.Context) {
	gate := s.kernel.Lifecycle()
	api.Success(c, InfoResponse{
		Name:          "Corral",
		Version:       version.Version,
		Grid:          s.kernel.Name(),
		NodeID:        s.kernel.NodeID().String(),
		State:         gate.State().String(),
		ActiveReaders: gate.ActiveReaders(),
		Nodes:         s.kernel.Topology().Nodes(),
		ServiceTypes:  s.catalog.Names(),
	})
}

// facadeFor returns the canonical facade, or one scoped to nodeIDs
func (s *Server) facadeFor(nodeIDs []string) (*services.Facade, error) {
	if len(nodeIDs) == 0 {
		return s.kernel.Services()
	}
	ids := make([]uuid.UUID, 0, len(nodeIDs))
	for _, raw := range nodeIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return s.kernel.ForNodes(ids...), nil
}

func splitNodes(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func (s *Server) handleListServices(c *gin.Context) {
	f, err := s.facadeFor(splitNodes(c.Query("nodes")))
	if err != nil {
		api.BadRequest(c, "invalid nodes: "+err.Error())
		return
	}
	descs, err := f.DeployedServices()
	if err != nil {
		api.FromError(c, err)
		return
	}
	api.Success(c, descs)
}

func (s *Server) handleDeploy(c *gin.Context) {
	var req DeployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.BadRequest(c, err.Error())
		return
	}

	svc, err := s.catalog.Create(req.Type, req.Params)
	if err != nil {
		api.BadRequest(c, err.Error())
		return
	}

	var fut *future.Future
	switch req.Mode {
	case ModeCustom:
		f, ferr := s.kernel.Services()
		if ferr != nil {
			api.FromError(c, ferr)
			return
		}
		cfg := &registry.Configuration{
			Name:            req.Name,
			Service:         svc,
			TotalCount:      req.TotalCount,
			MaxPerNodeCount: req.MaxPerNode,
			CacheName:       req.CacheName,
		}
		if req.AffinityKey != "" {
			cfg.AffinityKey = req.AffinityKey
		}
		for _, raw := range req.NodeIDs {
			cfg.NodeIDs = append(cfg.NodeIDs, uuid.MustParse(raw))
		}
		fut, err = f.Deploy(cfg)
	default:
		f, ferr := s.facadeFor(req.NodeIDs)
		if ferr != nil {
			api.BadRequest(c, "invalid nodeIds: "+ferr.Error())
			return
		}
		switch req.Mode {
		case ModeNode:
			fut, err = f.DeployNodeSingleton(req.Name, svc)
		case ModeCluster:
			fut, err = f.DeployClusterSingleton(req.Name, svc)
		case ModeMultiple:
			fut, err = f.DeployMultiple(req.Name, svc, req.TotalCount, req.MaxPerNode)
		case ModeAffinity:
			var key any
			if req.AffinityKey != "" {
				key = req.AffinityKey
			}
			fut, err = f.DeployKeyAffinitySingleton(req.Name, svc, req.CacheName, key)
		}
	}
	if err != nil {
		api.FromError(c, err)
		return
	}
	if err := s.await(c, fut); err != nil {
		api.FromError(c, err)
		return
	}

	s.log.WithFields(map[string]interface{}{
		"service": req.Name,
		"type":    req.Type,
		"mode":    req.Mode,
	}).Info("通过 API 部署服务")
	api.Created(c, gin.H{"name": req.Name, "status": storage.StatusDeployed})
}

func (s *Server) handleCancel(c *gin.Context) {
	f, err := s.facadeFor(splitNodes(c.Query("nodes")))
	if err != nil {
		api.BadRequest(c, "invalid nodes: "+err.Error())
		return
	}
	name := c.Param("name")
	fut, err := f.Cancel(name)
	if err != nil {
		api.FromError(c, err)
		return
	}
	if err := s.await(c, fut); err != nil {
		api.FromError(c, err)
		return
	}
	api.Success(c, gin.H{"name": name, "status": storage.StatusCancelled})
}

func (s *Server) handleCancelAll(c *gin.Context) {
	f, err := s.facadeFor(splitNodes(c.Query("nodes")))
	if err != nil {
		api.BadRequest(c, "invalid nodes: "+err.Error())
		return
	}
	fut, err := f.CancelAll()
	if err != nil {
		api.FromError(c, err)
		return
	}
	if err := s.await(c, fut); err != nil {
		api.FromError(c, err)
		return
	}
	api.Success(c, gin.H{"status": storage.StatusCancelled})
}

// await waits for fut, bounded by the request and the deploy timeout
func (s *Server) await(c *gin.Context, fut *future.Future) error {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.DeployTimeout)
	defer cancel()
	return fut.Wait(ctx)
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		api.BadRequest(c, "invalid limit")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		api.BadRequest(c, "invalid offset")
		return
	}
	activeOnly := c.Query("active") == "true"

	records, err := s.kernel.Registry().History(c.Request.Context(), limit, offset, activeOnly)
	if err != nil {
		api.FromError(c, err)
		return
	}
	api.Paginated(c, records, len(records), limit, offset)
}

func (s *Server) handleEncode(c *gin.Context) {
	f, err := s.kernel.Services()
	if err != nil {
		api.FromError(c, err)
		return
	}
	data, err := s.kernel.Codec().Marshal(f)
	if err != nil {
		api.InternalError(c, err)
		return
	}
	api.Success(c, gin.H{"token": base64.StdEncoding.EncodeToString(data)})
}

func (s *Server) handleResolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.BadRequest(c, err.Error())
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Token)
	if err != nil {
		api.BadRequest(c, "token is not valid base64")
		return
	}

	f, err := s.kernel.Codec().Unmarshal(data)
	if err != nil {
		api.FromError(c, err)
		return
	}
	canonical, _ := s.kernel.Services()
	api.Success(c, ResolveResponse{
		Grid:       f.Context().Name(),
		NodeID:     f.Context().NodeID().String(),
		Canonical:  f == canonical,
		Projection: f.Projection().String(),
	})
}
