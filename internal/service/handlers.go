package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/karavan-route/karavan/internal/cache"
	"github.com/karavan-route/karavan/internal/model"
	"github.com/karavan-route/karavan/internal/pipeline"
	"github.com/karavan-route/karavan/internal/reroute"
	"github.com/karavan-route/karavan/internal/vrp"
)

// RegisterHandlers binds the four event kinds to their handlers. Call once
// before the pipeline starts.
func (s *Service) RegisterHandlers(p *pipeline.Pipeline) {
	p.Register(pipeline.KindGPS, s.handleGPS)
	p.Register(pipeline.KindTraffic, s.handleTraffic)
	p.Register(pipeline.KindOrderCancel, s.handleOrderCancel)
	p.Register(pipeline.KindVisitComplete, s.handleVisitComplete)
}

// handleGPS folds a fix into the spatial index and the location caches.
func (s *Service) handleGPS(ctx context.Context, ev pipeline.Event) error {
	fix, ok := ev.Payload.(pipeline.GPSFix)
	if !ok {
		return fmt.Errorf("service: gps payload is %T: %w", ev.Payload, vrp.ErrInvalidInput)
	}
	if fix.AgentID == "" {
		fix.AgentID = ev.AgentID
	}
	if err := fix.Position.Validate(); err != nil {
		return fmt.Errorf("service: gps fix for %s: %w", fix.AgentID, err)
	}
	if err := s.spatial.Upsert(fix.AgentID, fix.Position); err != nil {
		return fmt.Errorf("service: index fix for %s: %w", fix.AgentID, err)
	}
	b, err := json.Marshal(fix)
	if err != nil {
		return fmt.Errorf("service: marshal fix for %s: %w", fix.AgentID, err)
	}
	if err := s.cache.Set(ctx, cache.GPSKey(fix.AgentID), b, s.ttl.GPS); err != nil {
		return fmt.Errorf("service: cache fix for %s: %w", fix.AgentID, err)
	}
	// The agent-location entry outlives the raw fix and serves dashboards.
	if err := s.cache.Set(ctx, cache.AgentLocationKey(fix.AgentID), b, s.ttl.AgentLoc); err != nil {
		return fmt.Errorf("service: cache location for %s: %w", fix.AgentID, err)
	}
	return nil
}

// handleTraffic pins a live multiplier override for a region.
func (s *Service) handleTraffic(_ context.Context, ev pipeline.Event) error {
	upd, ok := ev.Payload.(pipeline.TrafficUpdate)
	if !ok {
		return fmt.Errorf("service: traffic payload is %T: %w", ev.Payload, vrp.ErrInvalidInput)
	}
	if upd.Region == "" || upd.Multiplier <= 0 || upd.TTL <= 0 {
		return fmt.Errorf("service: traffic update %+v: %w", upd, vrp.ErrInvalidInput)
	}
	s.regions.SetTrafficOverride(upd.Region, upd.Multiplier, upd.TTL)
	log.Printf("[service] traffic override %s x%.2f for %s", upd.Region, upd.Multiplier, upd.TTL)
	return nil
}

// handleOrderCancel drops the order from the active route and rechecks the
// agent's remaining day.
func (s *Service) handleOrderCancel(ctx context.Context, ev pipeline.Event) error {
	oc, ok := ev.Payload.(pipeline.OrderCancel)
	if !ok {
		return fmt.Errorf("service: cancel payload is %T: %w", ev.Payload, vrp.ErrInvalidInput)
	}
	if err := s.store.SetOrderStatus(ctx, oc.OrderID, model.OrderCancelled); err != nil && !errors.Is(err, vrp.ErrNotFound) {
		return fmt.Errorf("service: cancel order %s: %w", oc.OrderID, err)
	}

	route, err := s.store.ActiveRoute(ctx, oc.AgentID)
	if errors.Is(err, vrp.ErrNotFound) {
		return nil // nothing planned, cancellation is already fully applied
	}
	if err != nil {
		return fmt.Errorf("service: active route for %s: %w", oc.AgentID, err)
	}

	stops := route.Stops[:0:0]
	for _, stop := range route.Stops {
		if stop.OrderID == oc.OrderID && !stop.Completed {
			continue
		}
		stops = append(stops, stop)
	}
	if len(stops) == len(route.Stops) {
		return nil // order was not on the route
	}
	route.Stops = stops
	route.UpdatedAt = s.clk.Now()
	if err := s.store.SaveRoute(ctx, route); err != nil {
		return fmt.Errorf("service: save route %s: %w", route.ID, err)
	}
	s.invalidateAgentPlans(ctx, oc.AgentID)

	if res, err := s.rerouter.CheckAgent(ctx, oc.AgentID); err != nil {
		log.Printf("[service] recheck after cancel for %s: %v", oc.AgentID, err)
	} else if res.Outcome == reroute.OutcomeRerouted {
		log.Printf("[service] agent %s rerouted after cancelling %s", oc.AgentID, oc.OrderID)
	}
	return nil
}

// handleVisitComplete marks the stop done and completes its order.
func (s *Service) handleVisitComplete(ctx context.Context, ev pipeline.Event) error {
	vc, ok := ev.Payload.(pipeline.VisitComplete)
	if !ok {
		return fmt.Errorf("service: completion payload is %T: %w", ev.Payload, vrp.ErrInvalidInput)
	}
	route, err := s.store.ActiveRoute(ctx, vc.AgentID)
	if err != nil {
		return fmt.Errorf("service: active route for %s: %w", vc.AgentID, err)
	}

	found := false
	for i := range route.Stops {
		if route.Stops[i].OrderID == vc.OrderID {
			route.Stops[i].Completed = true
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("service: order %s not on route %s: %w", vc.OrderID, route.ID, vrp.ErrNotFound)
	}
	if len(route.Remaining()) == 0 {
		route.Status = model.RouteCompleted
	}
	route.UpdatedAt = s.clk.Now()
	if err := s.store.SaveRoute(ctx, route); err != nil {
		return fmt.Errorf("service: save route %s: %w", route.ID, err)
	}
	if err := s.store.SetOrderStatus(ctx, vc.OrderID, model.OrderCompleted); err != nil && !errors.Is(err, vrp.ErrNotFound) {
		return fmt.Errorf("service: complete order %s: %w", vc.OrderID, err)
	}
	s.invalidateAgentPlans(ctx, vc.AgentID)
	return nil
}
