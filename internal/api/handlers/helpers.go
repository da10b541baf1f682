package handlers

import (
	"errors"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/apperror"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func GetUserID(c *fiber.Ctx) int64 {
	s, _ := c.Locals("user_id").(string)
	userID, _ := strconv.ParseInt(s, 10, 64)
	return userID
}

// bind parses the JSON body into v and runs its validate tags. Failed fields
// are reported by their JSON path, e.g. "platform_options[x].title".
func bind(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return apperror.InvalidRequest("request body is not valid json")
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return apperror.InvalidRequest(err.Error())
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			ns := fe.Namespace()
			if i := strings.IndexByte(ns, '.'); i >= 0 {
				ns = ns[i+1:]
			}
			fields = append(fields, ns)
		}
		return apperror.InvalidRequest("request failed validation", fields...)
	}
	return nil
}

func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.InvalidRequest(name+" is not valid", name)
	}
	return id, nil
}

// errorResponse writes err as {"error", "code", "fields"} with the status of its kind.
func errorResponse(c *fiber.Ctx, err error) error {
	e, ok := apperror.As(err)
	if !ok {
		slog.Error(err.Error(), "path", c.Path())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
			"code":  apperror.KindInternal,
		})
	}

	body := fiber.Map{
		"error": e.Message,
		"code":  e.Kind,
	}
	if len(e.Fields) > 0 {
		body["fields"] = e.Fields
	}
	if e.Platform != "" {
		body["platform"] = e.Platform
	}
	return c.Status(apperror.HTTPStatus(e.Kind)).JSON(body)
}
