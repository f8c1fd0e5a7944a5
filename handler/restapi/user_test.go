package restapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/bulletin/board/models"
	"github.com/bulletin/board/service/userService"
)

func login(t *testing.T, api *testAPI, username string) string {
	t.Helper()
	recorder := api.doJSON(t, "POST", "/api/user/login",
		models.LoginRequest{Username: username, Password: testPassword}, "")
	assert.Equal(t, recorder.Code, http.StatusOK, recorder.Body.String())

	var response models.LoginResponse
	assert.NilError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Assert(t, response.Token != "")
	return response.Token
}

func TestLoginUser(t *testing.T) {
	api := newTestAPI(t, false)

	recorder := api.doJSON(t, "POST", "/api/user/login", models.LoginRequest{Username: "admin", Password: testPassword}, "")
	assert.Equal(t, recorder.Code, http.StatusOK)
	var response models.LoginResponse
	assert.NilError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, response.Role, models.RoleAdmin)

	recorder = api.doJSON(t, "POST", "/api/user/login", models.LoginRequest{Username: "admin", Password: "wrong"}, "")
	assert.Equal(t, recorder.Code, http.StatusUnauthorized)
	assert.Equal(t, decodeError(t, recorder).Error, WrongCredentials)

	recorder = api.doJSON(t, "POST", "/api/user/login", models.LoginRequest{Username: "nobody", Password: testPassword}, "")
	assert.Equal(t, recorder.Code, http.StatusUnauthorized)
	assert.Equal(t, decodeError(t, recorder).Error, WrongCredentials)

	recorder = api.doJSON(t, "POST", "/api/user/login", models.LoginRequest{Username: "admin"}, "")
	assert.Equal(t, recorder.Code, http.StatusBadRequest)
	assert.Equal(t, decodeError(t, recorder).Error, IncompleteCredentials)
}

func TestOpenBoardAllowsAnonymousWrites(t *testing.T) {
	api := newTestAPI(t, false)
	created := createTestPost(t, api, map[string]string{"title": "t"})

	recorder := api.do(t, "DELETE", fmt.Sprintf("/api/posts/%d", created.ID), nil, "", "")
	assert.Equal(t, recorder.Code, http.StatusOK)
}

func TestEnforcedRoles(t *testing.T) {
	api := newTestAPI(t, true)

	recorder := api.doJSON(t, "POST", "/api/posts", map[string]interface{}{"title": "t"}, "")
	assert.Equal(t, recorder.Code, http.StatusUnauthorized)
	assert.Equal(t, decodeError(t, recorder).Error, Unauthorized)

	recorder = api.doJSON(t, "POST", "/api/posts", map[string]interface{}{"title": "t"}, "garbage")
	assert.Equal(t, recorder.Code, http.StatusUnauthorized)
	assert.Equal(t, decodeError(t, recorder).Error, InvalidToken)

	forged, err := userService.GenerateToken([]byte("other secret"),
		models.Account{Username: "eve", Role: models.RoleAdmin})
	assert.NilError(t, err)
	recorder = api.doJSON(t, "POST", "/api/posts", map[string]interface{}{"title": "t"}, forged)
	assert.Equal(t, recorder.Code, http.StatusUnauthorized)
	assert.Equal(t, decodeError(t, recorder).Error, InvalidToken)

	authorToken := login(t, api, "kim")
	recorder = api.doJSON(t, "POST", "/api/posts", map[string]interface{}{"title": "t"}, authorToken)
	assert.Equal(t, recorder.Code, http.StatusCreated, recorder.Body.String())
	created := decodePost(t, recorder)
	target := fmt.Sprintf("/api/posts/%d", created.ID)

	recorder = api.doJSON(t, "PUT", target, map[string]interface{}{"title": "edited"}, authorToken)
	assert.Equal(t, recorder.Code, http.StatusOK)

	recorder = api.doJSON(t, "POST", target+"/comments", models.CreateCommentRequest{Text: "x"}, authorToken)
	assert.Equal(t, recorder.Code, http.StatusCreated)

	recorder = api.do(t, "DELETE", target, nil, "", authorToken)
	assert.Equal(t, recorder.Code, http.StatusForbidden)
	assert.Equal(t, decodeError(t, recorder).Error, NoPermissions)

	// reads stay public
	recorder = api.do(t, "GET", target, nil, "", "")
	assert.Equal(t, recorder.Code, http.StatusOK)

	recorder = api.do(t, "DELETE", target, nil, "", login(t, api, "admin"))
	assert.Equal(t, recorder.Code, http.StatusOK)
}

func TestAuthorCannotRemoveMediaOfOtherPosts(t *testing.T) {
	api := newTestAPI(t, true)
	adminToken := login(t, api, "admin")
	authorToken := login(t, api, "kim")

	body, contentType := multipartBody(t,
		map[string]string{"title": "announcement", "contentBlocks": `[{"type":"image"}]`},
		testFile{name: "a.png", contentType: "image/png", content: "a"})
	recorder := api.do(t, "POST", "/api/posts", body, contentType, adminToken)
	assert.Equal(t, recorder.Code, http.StatusCreated, recorder.Body.String())
	adminPost := decodePost(t, recorder)
	adminMedia := adminPost.ContentBlocks[0]
	assert.Equal(t, len(api.uploadedFiles(t)), 1)

	foreignBlocks := []map[string]string{{"type": "image", "url": adminMedia.URL}}
	recorder = api.doJSON(t, "POST", "/api/posts",
		map[string]interface{}{"title": "mine", "contentBlocks": foreignBlocks}, authorToken)
	assert.Equal(t, recorder.Code, http.StatusBadRequest)
	assert.Equal(t, decodeError(t, recorder).Error, InvalidContentBlocks)

	// the same file reached through a different path
	recorder = api.doJSON(t, "POST", "/api/posts", map[string]interface{}{
		"title":         "mine",
		"contentBlocks": []map[string]string{{"type": "video", "url": "/uploads/x/../" + path.Base(adminMedia.URL)}},
	}, authorToken)
	assert.Equal(t, recorder.Code, http.StatusBadRequest)

	recorder = api.doJSON(t, "POST", "/api/posts", map[string]interface{}{"title": "mine"}, authorToken)
	assert.Equal(t, recorder.Code, http.StatusCreated)
	authorTarget := fmt.Sprintf("/api/posts/%d", decodePost(t, recorder).ID)

	recorder = api.doJSON(t, "PUT", authorTarget, map[string]interface{}{"contentBlocks": foreignBlocks}, authorToken)
	assert.Equal(t, recorder.Code, http.StatusBadRequest)
	assert.Equal(t, decodeError(t, recorder).Error, InvalidContentBlocks)

	recorder = api.doJSON(t, "PUT", authorTarget, map[string]interface{}{"contentBlocks": []interface{}{}}, authorToken)
	assert.Equal(t, recorder.Code, http.StatusOK, recorder.Body.String())

	recorder = api.do(t, "DELETE", authorTarget, nil, "", adminToken)
	assert.Equal(t, recorder.Code, http.StatusOK)

	assert.DeepEqual(t, api.uploadedFiles(t), []string{path.Base(adminMedia.URL)})
	recorder = api.do(t, "GET", fmt.Sprintf("/api/posts/%d", adminPost.ID), nil, "", "")
	assert.Equal(t, recorder.Code, http.StatusOK)
	assert.DeepEqual(t, decodePost(t, recorder).ContentBlocks, []models.Block{adminMedia})
}
