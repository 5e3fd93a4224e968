package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/trailsketch/internal/core/domain"
	"github.com/samirrijal/trailsketch/internal/core/drawing"
	"github.com/samirrijal/trailsketch/internal/core/usecases"
)

// buildSchema creates the GraphQL schema wired to our services. GeoJSON
// collections are exposed as summarised features with raw geometry JSON.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	mapViewType := graphql.NewObject(graphql.ObjectConfig{
		Name: "MapView",
		Fields: graphql.Fields{
			"center": &graphql.Field{Type: geoPointType},
			"zoom":   &graphql.Field{Type: graphql.Int},
		},
	})

	featureType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Feature",
		Fields: graphql.Fields{
			"id":       &graphql.Field{Type: graphql.String},
			"type":     &graphql.Field{Type: graphql.String},
			"name":     &graphql.Field{Type: graphql.String},
			"geometry": &graphql.Field{Type: graphql.String, Description: "GeoJSON geometry"},
		},
	})

	trailsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Trails",
		Fields: graphql.Fields{
			"trails":     &graphql.Field{Type: graphql.NewList(featureType)},
			"trailheads": &graphql.Field{Type: graphql.NewList(featureType)},
		},
	})

	sessionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Session",
		Fields: graphql.Fields{
			"id":         &graphql.Field{Type: graphql.String},
			"mode":       &graphql.Field{Type: graphql.String},
			"snapping":   &graphql.Field{Type: graphql.Boolean},
			"features":   &graphql.Field{Type: graphql.Int},
			"undo_depth": &graphql.Field{Type: graphql.Int},
			"redo_depth": &graphql.Field{Type: graphql.Int},
			"view":       &graphql.Field{Type: mapViewType},
			"routes": &graphql.Field{
				Type: graphql.NewList(featureType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					info := p.Source.(map[string]interface{})
					sess, err := deps.Sessions.Session(info["id"].(string))
					if err != nil {
						return nil, err
					}
					return features(sess.Features()), nil
				},
			},
		},
	})

	sessionArg := graphql.FieldConfigArgument{
		"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
	}

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"trails": &graphql.Field{
				Type:        trailsType,
				Description: "Trails and trailheads in a viewport",
				Args: graphql.FieldConfigArgument{
					"south": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"west":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"north": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"east":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"zoom":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: usecases.DefaultTileZoom},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					b := domain.Bounds{
						South: p.Args["south"].(float64),
						West:  p.Args["west"].(float64),
						North: p.Args["north"].(float64),
						East:  p.Args["east"].(float64),
					}
					res, err := deps.Trails.FetchTiles(p.Context, b, p.Args["zoom"].(int))
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"trails":     features(res.Trails),
						"trailheads": features(res.Trailheads),
					}, nil
				},
			},
			"mapDefaults": &graphql.Field{
				Type: mapViewType,
				Args: graphql.FieldConfigArgument{
					"place": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					v := deps.Sessions.MapDefaults(p.Context, usecases.CreateSessionRequest{Place: p.Args["place"].(string)})
					return viewMap(v), nil
				},
			},
			"session": &graphql.Field{
				Type: sessionType,
				Args: sessionArg,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					info, err := deps.Sessions.Get(p.Args["id"].(string))
					if err != nil {
						return nil, err
					}
					return sessionMap(info), nil
				},
			},
			"sessions": &graphql.Field{
				Type: graphql.NewList(sessionType),
				Args: graphql.FieldConfigArgument{
					"offset": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: defaultPageLimit},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					list, _ := deps.Sessions.List(p.Args["offset"].(int), p.Args["limit"].(int))
					out := make([]map[string]interface{}, 0, len(list))
					for i := range list {
						out = append(out, sessionMap(&list[i]))
					}
					return out, nil
				},
			},
		},
	})

	step := func(name string, fn func(*drawing.Session) bool) *graphql.Field {
		return &graphql.Field{
			Type:        sessionType,
			Description: name + " the last change",
			Args:        sessionArg,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				id := p.Args["id"].(string)
				sess, err := deps.Sessions.Session(id)
				if err != nil {
					return nil, err
				}
				fn(sess)
				info, err := deps.Sessions.Get(id)
				if err != nil {
					return nil, err
				}
				return sessionMap(info), nil
			},
		}
	}

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"undo": step("Undo", (*drawing.Session).Undo),
			"redo": step("Redo", (*drawing.Session).Redo),
			"setMode": &graphql.Field{
				Type: sessionType,
				Args: graphql.FieldConfigArgument{
					"id":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"mode": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					sess, err := deps.Sessions.Session(id)
					if err != nil {
						return nil, err
					}
					if err := sess.SetMode(drawing.ModeName(p.Args["mode"].(string))); err != nil {
						return nil, err
					}
					info, err := deps.Sessions.Get(id)
					if err != nil {
						return nil, err
					}
					return sessionMap(info), nil
				},
			},
			"deleteFeature": &graphql.Field{
				Type: graphql.Boolean,
				Args: graphql.FieldConfigArgument{
					"id":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"feature": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := deps.Sessions.Session(p.Args["id"].(string))
					if err != nil {
						return nil, err
					}
					err = sess.Delete(p.Args["feature"].(string))
					if usecases.IsNotFound(err) {
						return false, nil
					}
					return err == nil, err
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
}

func features(fc *geojson.FeatureCollection) []map[string]interface{} {
	if fc == nil {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(fc.Features))
	for _, f := range fc.Features {
		geom, _ := geojson.NewGeometry(f.Geometry).MarshalJSON()
		out = append(out, map[string]interface{}{
			"id":       f.ID,
			"type":     f.Geometry.GeoJSONType(),
			"name":     f.Properties.MustString("name", ""),
			"geometry": string(geom),
		})
	}
	return out
}

func viewMap(v domain.MapView) map[string]interface{} {
	return map[string]interface{}{
		"center": map[string]interface{}{"lat": v.Center.Lat, "lon": v.Center.Lon},
		"zoom":   v.Zoom,
	}
}

func sessionMap(info *usecases.SessionInfo) map[string]interface{} {
	return map[string]interface{}{
		"id":         info.ID,
		"mode":       info.Mode,
		"snapping":   info.Snapping,
		"features":   info.Features,
		"undo_depth": info.Undo,
		"redo_depth": info.Redo,
		"view":       viewMap(info.View),
	}
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.Query == "" {
			return errBadRequest(c, "query is required")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
